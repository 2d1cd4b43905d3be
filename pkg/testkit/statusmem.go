package testkit

import (
	"context"
	"sync"

	"tokenforge/pkg/status"
)

// MemorySink is a status.Sink that records every update in order. Safe
// for concurrent publishers.
type MemorySink struct {
	mu      sync.Mutex
	updates []status.Update
	closed  bool
}

var _ status.Sink = (*MemorySink)(nil)

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Publish(_ context.Context, update status.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, update)
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MemorySink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Updates returns a copy of everything published so far.
func (m *MemorySink) Updates() []status.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]status.Update, len(m.updates))
	copy(out, m.updates)
	return out
}

// TaskStages returns the stage names published for one task, in order.
func (m *MemorySink) TaskStages(taskID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stages []string
	for _, u := range m.updates {
		if u.TaskID == taskID {
			stages = append(stages, u.Stage)
		}
	}
	return stages
}

// Last returns the most recent update for a task.
func (m *MemorySink) Last(taskID string) (status.Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.updates) - 1; i >= 0; i-- {
		if m.updates[i].TaskID == taskID {
			return m.updates[i], true
		}
	}
	return status.Update{}, false
}

// Get mirrors the Redis sink's reader side so the memory sink can back
// status endpoints in tests.
func (m *MemorySink) Get(_ context.Context, taskID string) (*status.Update, error) {
	if u, ok := m.Last(taskID); ok {
		return &u, nil
	}
	return nil, status.ErrNotFound
}

// BatchTasks returns the distinct task IDs seen for a batch, in first-seen
// order.
func (m *MemorySink) BatchTasks(_ context.Context, batchID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, u := range m.updates {
		if u.BatchID == batchID && !seen[u.TaskID] {
			seen[u.TaskID] = true
			ids = append(ids, u.TaskID)
		}
	}
	return ids, nil
}
