package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
)

// Memory is a TaskStore held in process memory. Callers always receive
// copies, so a record only changes through Save.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	now   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]*domain.Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ TaskStore = (*Memory)(nil)

func (m *Memory) Create(_ context.Context, task *domain.Task) error {
	ts := m.now()
	task.ApplyDefaults(ts)
	if err := task.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	} else if _, ok := m.tasks[task.ID]; ok {
		return &domain.DuplicateTaskError{TaskID: task.ID}
	}
	task.CreatedAt = ts
	task.UpdatedAt = ts
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *Memory) Save(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tasks[task.ID]
	if !ok {
		return &domain.TaskNotFoundError{TaskID: task.ID}
	}
	task.Problem = task.Problem || stored.Problem
	task.UpdatedAt = m.now()
	m.tasks[task.ID] = task.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return t.Clone(), nil
}

func (m *Memory) ListDue(_ context.Context, now time.Time) ([]*domain.Task, error) {
	tasks := m.filter(func(t *domain.Task) bool { return t.IsDue(now) })
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].TimeToRun.Before(tasks[j].TimeToRun) })
	return tasks, nil
}

func (m *Memory) ListStuck(_ context.Context, now time.Time) ([]*domain.Task, error) {
	tasks := m.filter(func(t *domain.Task) bool { return t.IsStuck(now) })
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].WhenCheckIfFailed.Before(tasks[j].WhenCheckIfFailed)
	})
	return tasks, nil
}

func (m *Memory) CountDue(_ context.Context, now time.Time) (int, error) {
	return len(m.filter(func(t *domain.Task) bool { return t.IsDue(now) })), nil
}

func (m *Memory) CountStuck(_ context.Context, now time.Time) (int, error) {
	return len(m.filter(func(t *domain.Task) bool { return t.IsStuck(now) })), nil
}

func (m *Memory) ListProblems(_ context.Context, limit int) ([]*domain.Task, error) {
	tasks := m.filter(func(t *domain.Task) bool { return t.Problem })
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt) })
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// Len returns the number of stored tasks.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

func (m *Memory) filter(keep func(*domain.Task) bool) []*domain.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Task
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}
