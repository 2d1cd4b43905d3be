package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no status record exists for a task.
var ErrNotFound = errors.New("status: task not found")

// RedisSink implements Sink on top of Redis. Each task gets one JSON
// record under its own key, and each batch keeps a ZSET index of its
// task IDs scored by last-update time.
type RedisSink struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*RedisSink)

// WithTTL sets the expiration for status records.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisSink) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for status records.
func WithPrefix(prefix string) Option {
	return func(s *RedisSink) {
		s.prefix = prefix
	}
}

// NewRedisSink creates a sink with its own client.
func NewRedisSink(address, password string, db int, opts ...Option) *RedisSink {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisSinkFromClient(rdb, opts...)
}

// NewRedisSinkFromClient creates a sink from an existing client.
func NewRedisSinkFromClient(client *backend.Client, opts ...Option) *RedisSink {
	sink := &RedisSink{
		client: client,
		prefix: "tokenforge:status:",
		ttl:    24 * time.Hour,
	}

	for _, opt := range opts {
		opt(sink)
	}

	return sink
}

func (s *RedisSink) taskKey(taskID string) string {
	return s.prefix + "task:" + taskID
}

func (s *RedisSink) batchKey(batchID string) string {
	return s.prefix + "batch:" + batchID
}

// Publish upserts the task's status record and indexes it under its
// batch.
func (s *RedisSink) Publish(ctx context.Context, update Update) error {
	if update.TaskID == "" {
		return fmt.Errorf("status update has no task ID")
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.taskKey(update.TaskID), data, s.ttl)
	if update.BatchID != "" {
		pipe.ZAdd(ctx, s.batchKey(update.BatchID), backend.Z{
			Score:  float64(update.At.Unix()),
			Member: update.TaskID,
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, s.batchKey(update.BatchID), s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}

	return nil
}

// Get returns the latest status record for a task.
func (s *RedisSink) Get(ctx context.Context, taskID string) (*Update, error) {
	val, err := s.client.Get(ctx, s.taskKey(taskID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	var update Update
	if err := json.Unmarshal([]byte(val), &update); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}

	return &update, nil
}

// BatchTasks returns the task IDs known for a batch, oldest update first.
func (s *RedisSink) BatchTasks(ctx context.Context, batchID string) ([]string, error) {
	tasks, err := s.client.ZRange(ctx, s.batchKey(batchID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list batch tasks: %w", err)
	}
	return tasks, nil
}

// Close closes the redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
