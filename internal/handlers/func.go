package handlers

import (
	"context"
	"strings"
)

// Func adapts a plain function to the Handler interface.
type Func struct {
	name   string
	params []string
	fn     func(ctx context.Context, call Call) error
}

// NewFunc wraps fn as the handler for taskType.
func NewFunc(taskType string, params []string, fn func(ctx context.Context, call Call) error) *Func {
	return &Func{name: taskType, params: params, fn: fn}
}

func (f *Func) TaskType() string { return f.name }

func (f *Func) Handle(ctx context.Context, call Call) error { return f.fn(ctx, call) }

func (f *Func) Signature() string {
	return "handlers." + f.name + "(" + strings.Join(f.params, ", ") + ")"
}
