package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
)

// Call is a single invocation of a handler: the stored positional and
// keyword payloads of one task. Args is always a JSON array and Kwargs a
// JSON object; absent payloads arrive as [] and {}.
type Call struct {
	TaskID   string
	TaskType string
	Args     json.RawMessage
	Kwargs   json.RawMessage
}

// NewCall builds a Call for task, defaulting absent payloads to empty ones.
func NewCall(task *domain.Task) Call {
	call := Call{TaskID: task.ID, TaskType: task.TaskType, Args: task.Args, Kwargs: task.Kwargs}
	if len(call.Args) == 0 || string(call.Args) == "null" {
		call.Args = json.RawMessage(`[]`)
	}
	if len(call.Kwargs) == 0 || string(call.Kwargs) == "null" {
		call.Kwargs = json.RawMessage(`{}`)
	}
	return call
}

// Handler processes a task of a specific type.
type Handler interface {
	Handle(ctx context.Context, call Call) error
	TaskType() string
}

// Describer is implemented by handlers that can render a human-readable
// signature for error reports.
type Describer interface {
	Signature() string
}

// Registry maps task types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.TaskType()] = h
}

// RegisterFunc adds fn under taskType. params names the keyword arguments fn
// expects and only feeds the signature shown in reports.
func (r *Registry) RegisterFunc(taskType string, params []string, fn func(ctx context.Context, call Call) error) {
	r.Register(NewFunc(taskType, params, fn))
}

// Get returns the handler for the given task type.
// Returns InvalidTaskTypeError if not registered.
func (r *Registry) Get(taskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	if !ok {
		return nil, &domain.InvalidTaskTypeError{TaskType: taskType}
	}
	return h, nil
}

// Describe returns the signature of the handler registered for taskType,
// when there is one and it can describe itself.
func (r *Registry) Describe(taskType string) (string, bool) {
	h, err := r.Get(taskType)
	if err != nil {
		return "", false
	}
	d, ok := h.(Describer)
	if !ok {
		return "", false
	}
	return d.Signature(), true
}

// TaskTypes lists the registered task types in sorted order.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// BindKwargs decodes call.Kwargs into dst, rejecting positional arguments and
// unknown or mistyped keyword arguments with an ArgumentMismatchError.
func BindKwargs(call Call, dst any) error {
	var args []json.RawMessage
	if err := json.Unmarshal(call.Args, &args); err != nil {
		return &domain.ArgumentMismatchError{TaskType: call.TaskType, Reason: "args must be a JSON array"}
	}
	if len(args) > 0 {
		return &domain.ArgumentMismatchError{
			TaskType: call.TaskType,
			Reason:   fmt.Sprintf("takes no positional arguments but %d were given", len(args)),
		}
	}

	dec := json.NewDecoder(bytes.NewReader(call.Kwargs))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return fmt.Errorf("decode kwargs: %w", err)
		}
		return &domain.ArgumentMismatchError{TaskType: call.TaskType, Reason: err.Error()}
	}
	return nil
}
