package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-call-later/internal/domain"
)

const outcomeTTL = 24 * time.Hour

func outcomeKey(taskID string) string { return keyPrefix + "outcome:" + taskID }

// OutcomeRecord is the last thing an execution did to a task.
type OutcomeRecord struct {
	Outcome domain.Outcome `json:"outcome"`
	At      time.Time      `json:"at"`
}

// OutcomeStore keeps the last outcome per task for a day, so operators can
// see what happened to a task even after it was deleted.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, taskID string, outcome domain.Outcome) error
	LastOutcome(ctx context.Context, taskID string) (*OutcomeRecord, error)
}

type outcomeStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewOutcomeStore creates a Redis-backed OutcomeStore.
func NewOutcomeStore(client *redis.Client) OutcomeStore {
	return &outcomeStore{
		client: client,
		ttl:    outcomeTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *outcomeStore) RecordOutcome(ctx context.Context, taskID string, outcome domain.Outcome) error {
	data, err := json.Marshal(OutcomeRecord{Outcome: outcome, At: s.now()})
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	if err := s.client.Set(ctx, outcomeKey(taskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set outcome for %s: %w", taskID, err)
	}
	return nil
}

func (s *outcomeStore) LastOutcome(ctx context.Context, taskID string) (*OutcomeRecord, error) {
	data, err := s.client.Get(ctx, outcomeKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("redis get outcome for %s: %w", taskID, err)
	}
	var rec OutcomeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return &rec, nil
}
