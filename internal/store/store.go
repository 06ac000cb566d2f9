// Package store defines the persistence contract the scheduler and executor
// rely on, and an in-memory implementation of it.
//
// Every implementation must apply writes to a single record atomically; the
// lease protocol depends on it and on nothing stronger.
package store

import (
	"context"
	"time"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
)

// TaskStore abstracts durable access to tasks.
type TaskStore interface {
	// Create validates task, assigns an ID when it has none and persists it.
	// An ID that is already stored is an error.
	Create(ctx context.Context, task *domain.Task) error
	// Save validates and overwrites the full record, except that a stored
	// problem flag is never cleared. task.Problem reflects the stored flag
	// afterwards.
	Save(ctx context.Context, task *domain.Task) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Task, error)

	// ListDue returns tasks with time_to_run <= now, when_check_if_failed > now
	// and no problem flag, earliest first.
	ListDue(ctx context.Context, now time.Time) ([]*domain.Task, error)
	// ListStuck returns tasks with when_check_if_failed <= now and no problem flag.
	ListStuck(ctx context.Context, now time.Time) ([]*domain.Task, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	CountStuck(ctx context.Context, now time.Time) (int, error)

	// ListProblems returns up to limit tasks flagged as problems, most recently updated first.
	ListProblems(ctx context.Context, limit int) ([]*domain.Task, error)
}
