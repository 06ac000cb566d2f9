package domain_test

import (
	"strings"
	"testing"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
)

func TestTaskNotFoundError(t *testing.T) {
	err := &domain.TaskNotFoundError{TaskID: "abc-123"}
	if !strings.Contains(err.Error(), "abc-123") {
		t.Errorf("error message should contain task ID, got: %q", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := &domain.ValidationError{Field: "every", Reason: "must be set"}
	msg := err.Error()
	if !strings.Contains(msg, "every") {
		t.Errorf("error message should contain field, got: %q", msg)
	}
	if !strings.Contains(msg, "must be set") {
		t.Errorf("error message should contain reason, got: %q", msg)
	}
}

func TestInvalidTaskTypeError(t *testing.T) {
	err := &domain.InvalidTaskTypeError{TaskType: "unknown-type"}
	if !strings.Contains(err.Error(), "unknown-type") {
		t.Errorf("error message should contain task type, got: %q", err.Error())
	}
}

func TestArgumentMismatchError(t *testing.T) {
	err := &domain.ArgumentMismatchError{TaskType: "webhook", Reason: `unknown field "uri"`}
	msg := err.Error()
	if !strings.Contains(msg, "webhook") || !strings.Contains(msg, "uri") {
		t.Errorf("error message should contain task type and reason, got: %q", msg)
	}
}

func TestAllErrorTypesImplementError(t *testing.T) {
	var _ error = &domain.TaskNotFoundError{}
	var _ error = &domain.ValidationError{}
	var _ error = &domain.InvalidTaskTypeError{}
	var _ error = &domain.ArgumentMismatchError{}
}

func TestEventMessage(t *testing.T) {
	if got := domain.EventMessage(domain.EventRepeatedlyFailed); got != "repeatedly timed out, given up!" {
		t.Errorf("EventMessage(repeatedly failed) = %q", got)
	}
	if got := domain.EventMessage("something else"); got != "something else" {
		t.Errorf("unknown labels should map to themselves, got %q", got)
	}
}

func TestDuplicateTaskError(t *testing.T) {
	err := &domain.DuplicateTaskError{TaskID: "abc-123"}
	if !strings.Contains(err.Error(), "abc-123") {
		t.Errorf("error message should contain task ID, got: %q", err.Error())
	}
}
