// Package status publishes live per-task pipeline progress to an
// external store so operators can watch a batch without tailing logs.
package status

import (
	"context"
	"time"
)

// Update is one live status record for a task.
type Update struct {
	BatchID  string    `json:"batch_id"`
	TaskID   string    `json:"task_id"`
	ImageRef string    `json:"image_ref,omitempty"`
	Stage    string    `json:"stage"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Sink receives status updates. Implementations must tolerate concurrent
// publishers; the pipeline treats publish errors as non-fatal.
type Sink interface {
	Publish(ctx context.Context, update Update) error
	Close() error
}

// NopSink discards all updates. Used when no status backend is
// configured.
type NopSink struct{}

func (NopSink) Publish(_ context.Context, _ Update) error { return nil }
func (NopSink) Close() error                              { return nil }

// Nop returns a sink that discards everything.
func Nop() Sink { return NopSink{} }
