package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/handlers"
)

func kwargsCall(taskType, kwargs string) handlers.Call {
	return handlers.Call{
		TaskID:   "task-1",
		TaskType: taskType,
		Args:     json.RawMessage(`[]`),
		Kwargs:   json.RawMessage(kwargs),
	}
}

func TestEmailHandler_TaskType(t *testing.T) {
	h := handlers.NewEmailHandler(handlers.EmailConfig{Host: "localhost", Port: 1025, From: "from@test.com"})
	assert.Equal(t, "email", h.TaskType())
	assert.Equal(t, "handlers.email(to, cc, subject, body)", h.Signature())
}

func TestEmailHandler_Handle_UnknownKwarg(t *testing.T) {
	h := handlers.NewEmailHandler(handlers.EmailConfig{Host: "localhost", Port: 1025})

	err := h.Handle(context.Background(), kwargsCall("email", `{"to":"x@y.com","attachments":["a.pdf"]}`))
	require.Error(t, err)

	var mismatch *domain.ArgumentMismatchError
	assert.True(t, errors.As(err, &mismatch), "expected ArgumentMismatchError, got %T", err)
}

func TestEmailHandler_Handle_MissingTo(t *testing.T) {
	h := handlers.NewEmailHandler(handlers.EmailConfig{Host: "localhost", Port: 1025})

	err := h.Handle(context.Background(), kwargsCall("email", `{"subject":"hi","body":"world"}`))
	require.Error(t, err, "should fail when 'to' field is missing")
	assert.Contains(t, err.Error(), "to")

	var mismatch *domain.ArgumentMismatchError
	assert.False(t, errors.As(err, &mismatch), "a missing value is an execution error, not a contract change")
}

func TestEmailHandler_Handle_InvalidAddress(t *testing.T) {
	h := handlers.NewEmailHandler(handlers.EmailConfig{Host: "localhost", Port: 1025})

	err := h.Handle(context.Background(), kwargsCall("email", `{"to":"x@y.com","cc":["not an address"]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an address")
}

func TestEmailHandler_Handle_CancelledContext(t *testing.T) {
	h := handlers.NewEmailHandler(handlers.EmailConfig{Host: "localhost", Port: 1025})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Handle(ctx, kwargsCall("email", `{"to":"x@y.com","subject":"hi","body":"world"}`))
	require.Error(t, err, "cancelled context should result in an error")
}
