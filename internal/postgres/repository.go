package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
	"github.com/ramiqadoumi/go-call-later/internal/postgres/migrations"
	"github.com/ramiqadoumi/go-call-later/internal/store"
)

const taskColumns = `
	id, name, time_to_run, time_to_stop, task_type, args, kwargs,
	repeat, every_ms, when_check_if_failed, retries, timeout_retries, problem,
	created_at, updated_at`

const uniqueViolation = "23505"

// TaskStore is a store.TaskStore backed by the call_later table. Every write
// is a single-row statement, so updates to one task are atomic.
type TaskStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore wraps a pgxpool with the TaskStore interface.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema files in name order. Every file is
// idempotent, so running it twice is harmless.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		sql, err := migrations.FS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
		logger.Info("applied migration", slog.String("file", f))
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *TaskStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	ts := s.now()
	task.ApplyDefaults(ts)
	if err := task.Validate(); err != nil {
		return err
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = ts
	task.UpdatedAt = ts

	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_later (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		task.ID, task.Name, task.TimeToRun, task.TimeToStop, task.TaskType,
		jsonArg(task.Args), jsonArg(task.Kwargs),
		task.Repeat, everyMillis(task.Every), task.WhenCheckIfFailed,
		task.Retries, task.TimeoutRetries, task.Problem,
		task.CreatedAt, task.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &domain.DuplicateTaskError{TaskID: task.ID}
	}
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *TaskStore) Save(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	updatedAt := s.now()

	var problem bool
	err := s.pool.QueryRow(ctx, `
		UPDATE call_later
		SET name = $2, time_to_run = $3, time_to_stop = $4, task_type = $5,
		    args = $6, kwargs = $7, repeat = $8, every_ms = $9,
		    when_check_if_failed = $10, retries = $11, timeout_retries = $12,
		    problem = problem OR $13, updated_at = $14
		WHERE id = $1
		RETURNING problem
	`,
		task.ID, task.Name, task.TimeToRun, task.TimeToStop, task.TaskType,
		jsonArg(task.Args), jsonArg(task.Kwargs),
		task.Repeat, everyMillis(task.Every), task.WhenCheckIfFailed,
		task.Retries, task.TimeoutRetries, task.Problem, updatedAt,
	).Scan(&problem)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.TaskNotFoundError{TaskID: task.ID}
	}
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	task.Problem = problem
	task.UpdatedAt = updatedAt
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM call_later WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{TaskID: id}
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		// Not a valid key, so it cannot exist.
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM call_later WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return task, err
}

func (s *TaskStore) ListDue(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	return s.list(ctx, "list due tasks", `
		SELECT `+taskColumns+`
		FROM call_later
		WHERE time_to_run <= $1 AND when_check_if_failed > $1 AND problem = FALSE
		ORDER BY time_to_run ASC
	`, now)
}

func (s *TaskStore) ListStuck(ctx context.Context, now time.Time) ([]*domain.Task, error) {
	return s.list(ctx, "list stuck tasks", `
		SELECT `+taskColumns+`
		FROM call_later
		WHERE when_check_if_failed <= $1 AND problem = FALSE
		ORDER BY when_check_if_failed ASC
	`, now)
}

func (s *TaskStore) ListProblems(ctx context.Context, limit int) ([]*domain.Task, error) {
	return s.list(ctx, "list problem tasks", `
		SELECT `+taskColumns+`
		FROM call_later
		WHERE problem = TRUE
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
}

func (s *TaskStore) CountDue(ctx context.Context, now time.Time) (int, error) {
	return s.count(ctx, "count due tasks", `
		SELECT count(*) FROM call_later
		WHERE time_to_run <= $1 AND when_check_if_failed > $1 AND problem = FALSE
	`, now)
}

func (s *TaskStore) CountStuck(ctx context.Context, now time.Time) (int, error) {
	return s.count(ctx, "count stuck tasks", `
		SELECT count(*) FROM call_later
		WHERE when_check_if_failed <= $1 AND problem = FALSE
	`, now)
}

func (s *TaskStore) list(ctx context.Context, op, query string, arg any) ([]*domain.Task, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

func (s *TaskStore) count(ctx context.Context, op, query string, now time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, query, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// scanTask reads a task row from any pgx row type. pgx.ErrNoRows is returned
// unwrapped so callers can translate it.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var (
		task    domain.Task
		args    []byte
		kwargs  []byte
		everyMs *int64
	)
	err := row.Scan(
		&task.ID, &task.Name, &task.TimeToRun, &task.TimeToStop, &task.TaskType,
		&args, &kwargs, &task.Repeat, &everyMs, &task.WhenCheckIfFailed,
		&task.Retries, &task.TimeoutRetries, &task.Problem,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if len(args) > 0 {
		task.Args = json.RawMessage(args)
	}
	if len(kwargs) > 0 {
		task.Kwargs = json.RawMessage(kwargs)
	}
	if everyMs != nil {
		every := time.Duration(*everyMs) * time.Millisecond
		task.Every = &every
	}
	task.TimeToRun = task.TimeToRun.UTC()
	task.WhenCheckIfFailed = task.WhenCheckIfFailed.UTC()
	if task.TimeToStop != nil {
		stop := task.TimeToStop.UTC()
		task.TimeToStop = &stop
	}
	return &task, nil
}

// jsonArg maps an absent payload to SQL NULL. pgx sends []byte to a JSONB
// column verbatim.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func everyMillis(every *time.Duration) *int64 {
	if every == nil {
		return nil
	}
	ms := every.Milliseconds()
	return &ms
}
