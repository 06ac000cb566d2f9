package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// ValidationError is returned when a task breaks an invariant on create or save.
// Nothing is persisted when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s %s", e.Field, e.Reason)
}

// InvalidTaskTypeError is returned when no handler is registered for a task type.
type InvalidTaskTypeError struct {
	TaskType string
}

func (e *InvalidTaskTypeError) Error() string {
	return fmt.Sprintf("no handler registered for task type %q", e.TaskType)
}

// ArgumentMismatchError is returned by a handler whose contract no longer
// matches the stored args/kwargs. The executor swallows it.
type ArgumentMismatchError struct {
	TaskType string
	Reason   string
}

func (e *ArgumentMismatchError) Error() string {
	return fmt.Sprintf("arguments do not match handler %q: %s", e.TaskType, e.Reason)
}

// DuplicateTaskError is returned by Create when the task ID is already stored.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task already exists: %s", e.TaskID)
}
