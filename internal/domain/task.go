package domain

import (
	"bytes"
	"encoding/json"
	"time"
	"unicode/utf8"
)

const (
	// MaxTime is how long an armed lease stays valid. A task that has not
	// resolved by then is considered stuck.
	MaxTime = 600 * time.Second

	// FarFuture is the horizon used for an idle (unarmed) lease.
	FarFuture = 365 * 24 * time.Hour

	DefaultRetries        = 3
	DefaultTimeoutRetries = 2

	maxNameLength = 64
)

// Task is a deferred unit of work: a registered task type plus its JSON
// arguments, scheduled to run once or repeatedly.
type Task struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	TimeToRun         time.Time       `json:"time_to_run"`
	TimeToStop        *time.Time      `json:"time_to_stop,omitempty"`
	TaskType          string          `json:"task_type"`
	Args              json.RawMessage `json:"args,omitempty"`
	Kwargs            json.RawMessage `json:"kwargs,omitempty"`
	Repeat            int             `json:"repeat"`
	Every             *time.Duration  `json:"every,omitempty"`
	WhenCheckIfFailed time.Time       `json:"when_check_if_failed"`
	Retries           int             `json:"retries"`
	TimeoutRetries    int             `json:"timeout_retries"`
	Problem           bool            `json:"problem"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewTask returns a one-shot task of the given type with every field at its
// default, due at now.
func NewTask(taskType string, now time.Time) *Task {
	return &Task{
		TaskType:          taskType,
		TimeToRun:         now,
		Repeat:            1,
		WhenCheckIfFailed: IdleLease(now),
		Retries:           DefaultRetries,
		TimeoutRetries:    DefaultTimeoutRetries,
	}
}

// ApplyDefaults fills the zero-valued scheduling fields of a task created
// without NewTask. Retry budgets are left alone since zero is meaningful.
func (t *Task) ApplyDefaults(now time.Time) {
	if t.TimeToRun.IsZero() {
		t.TimeToRun = now
	}
	if t.WhenCheckIfFailed.IsZero() {
		t.WhenCheckIfFailed = IdleLease(now)
	}
	if t.Repeat == 0 {
		t.Repeat = 1
	}
}

// ArmedLease is the lease deadline set right before an execution attempt.
func ArmedLease(now time.Time) time.Time { return now.Add(MaxTime) }

// IdleLease is the lease deadline of a task that is not in flight.
func IdleLease(now time.Time) time.Time { return now.Add(FarFuture) }

// Validate checks the invariants that must hold before a task is persisted.
func (t *Task) Validate() error {
	switch {
	case t.TaskType == "":
		return &ValidationError{Field: "task_type", Reason: "must be set"}
	case utf8.RuneCountInString(t.Name) > maxNameLength:
		return &ValidationError{Field: "name", Reason: "must be at most 64 characters"}
	case t.Repeat < 1:
		return &ValidationError{Field: "repeat", Reason: "must be at least 1"}
	case t.Repeat > 1 && t.Every == nil:
		return &ValidationError{
			Field:  "every",
			Reason: "must be set when repeat is greater than 1 (each run is scheduled at now + every)",
		}
	case t.Every != nil && *t.Every <= 0:
		return &ValidationError{Field: "every", Reason: "must be a positive duration"}
	case t.Every != nil && *t.Every%time.Millisecond != 0:
		return &ValidationError{Field: "every", Reason: "must be a whole number of milliseconds"}
	case t.Retries < 0:
		return &ValidationError{Field: "retries", Reason: "must not be negative"}
	case t.TimeoutRetries < 0:
		return &ValidationError{Field: "timeout_retries", Reason: "must not be negative"}
	}
	if err := validJSON("args", t.Args, '['); err != nil {
		return err
	}
	return validJSON("kwargs", t.Kwargs, '{')
}

// IsDue reports whether the due pass of a check cycle at now picks the task up.
func (t *Task) IsDue(now time.Time) bool {
	return !t.Problem && !t.TimeToRun.After(now) && t.WhenCheckIfFailed.After(now)
}

// IsStuck reports whether the task's lease expired without a recorded outcome.
func (t *Task) IsStuck(now time.Time) bool {
	return !t.Problem && !t.WhenCheckIfFailed.After(now)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (t *Task) Clone() *Task {
	c := *t
	if t.TimeToStop != nil {
		ts := *t.TimeToStop
		c.TimeToStop = &ts
	}
	if t.Every != nil {
		e := *t.Every
		c.Every = &e
	}
	if t.Args != nil {
		c.Args = append(json.RawMessage(nil), t.Args...)
	}
	if t.Kwargs != nil {
		c.Kwargs = append(json.RawMessage(nil), t.Kwargs...)
	}
	return &c
}

// validJSON accepts an absent payload or valid JSON whose first token is open.
func validJSON(field string, raw json.RawMessage, open byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if !json.Valid(raw) {
		return &ValidationError{Field: field, Reason: "must be valid JSON"}
	}
	if trimmed := bytes.TrimSpace(raw); trimmed[0] == open {
		return nil
	}
	if open == '[' {
		return &ValidationError{Field: field, Reason: "must be a JSON array"}
	}
	return &ValidationError{Field: field, Reason: "must be a JSON object"}
}
