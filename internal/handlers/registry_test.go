package handlers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/handlers"
)

// stub is a minimal Handler implementation for registry tests.
type stub struct{ taskType string }

func (s *stub) TaskType() string                                { return s.taskType }
func (s *stub) Handle(_ context.Context, _ handlers.Call) error { return nil }

func TestRegistry_Get_KnownType(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{taskType: "email"})

	h, err := reg.Get("email")
	require.NoError(t, err)
	assert.Equal(t, "email", h.TaskType())
}

func TestRegistry_Get_UnknownType(t *testing.T) {
	reg := handlers.NewRegistry()

	_, err := reg.Get("sms")
	require.Error(t, err)

	var invalidType *domain.InvalidTaskTypeError
	assert.True(t, errors.As(err, &invalidType),
		"expected InvalidTaskTypeError, got %T", err)
	assert.Equal(t, "sms", invalidType.TaskType)
}

func TestRegistry_RegisterFunc(t *testing.T) {
	reg := handlers.NewRegistry()
	var got handlers.Call
	reg.RegisterFunc("add", []string{"a", "b"}, func(_ context.Context, call handlers.Call) error {
		got = call
		return nil
	})

	h, err := reg.Get("add")
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), handlers.Call{TaskID: "t-1"}))
	assert.Equal(t, "t-1", got.TaskID)

	sig, ok := reg.Describe("add")
	require.True(t, ok)
	assert.Equal(t, "handlers.add(a, b)", sig)
}

func TestRegistry_Describe(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{taskType: "plain"})
	reg.Register(handlers.NewWebhookHandler(time.Second))

	_, ok := reg.Describe("plain")
	assert.False(t, ok, "handlers without a signature are not describable")

	_, ok = reg.Describe("missing")
	assert.False(t, ok)

	sig, ok := reg.Describe("webhook")
	require.True(t, ok)
	assert.Equal(t, "handlers.webhook(url, method, headers, body, json)", sig)

	assert.Equal(t, []string{"plain", "webhook"}, reg.TaskTypes())
}

func TestNewCall_DefaultsEmptyPayloads(t *testing.T) {
	task := domain.NewTask("add", time.Now())
	task.ID = "t-2"

	call := handlers.NewCall(task)
	assert.Equal(t, "t-2", call.TaskID)
	assert.JSONEq(t, `[]`, string(call.Args))
	assert.JSONEq(t, `{}`, string(call.Kwargs))
}

func TestBindKwargs(t *testing.T) {
	type params struct {
		Name string `json:"name"`
	}

	var p params
	require.NoError(t, handlers.BindKwargs(kwargsCall("greet", `{"name":"ada"}`), &p))
	assert.Equal(t, "ada", p.Name)

	err := handlers.BindKwargs(kwargsCall("greet", `{"nick":"ada"}`), &p)
	var mismatch *domain.ArgumentMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "greet", mismatch.TaskType)
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{taskType: "email"})
	reg.Register(&stub{taskType: "email"})

	h, err := reg.Get("email")
	require.NoError(t, err)
	assert.Equal(t, "email", h.TaskType())
	assert.Len(t, reg.TaskTypes(), 1)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := handlers.NewRegistry()
	reg.Register(&stub{taskType: "email"})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); reg.Register(&stub{taskType: "webhook"}) }()
		go func() { defer wg.Done(); _, _ = reg.Get("email") }()
	}
	wg.Wait()
}
