// Package pool provides the bounded-concurrency execution pool backing one
// pipeline stage. Each stage owns its own pool, so a slow stage never
// starves the others.
package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
)

// Sentinel errors for pool admission.
var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrBadLimit   = errors.New("pool limit must be positive")
)

// UnitOfWork is one admitted task. Failures are reported only through the
// unit's own returned error; siblings are never cancelled.
type UnitOfWork func(ctx context.Context) error

// Pool bounds concurrently running units for one pipeline stage. Admission
// beyond the limit queues FIFO on a counting semaphore.
type Pool struct {
	name     string
	limit    int64
	sem      *semaphore.Weighted
	active   atomic.Int32
	closed   atomic.Bool
	recorder metrics.Recorder
	logger   *logx.Logger
}

// New creates a pool for the named stage with the given concurrency limit.
func New(name string, maxConcurrent int, recorder metrics.Recorder) (*Pool, error) {
	if maxConcurrent <= 0 {
		return nil, ErrBadLimit
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Pool{
		name:     name,
		limit:    int64(maxConcurrent),
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		recorder: recorder,
		logger:   logx.NewLogger("pool-" + name),
	}, nil
}

// Submit admits the unit when a slot frees up, runs it, and returns its
// result. Submit blocks the calling goroutine; callers needing fan-out run
// Submit from their own goroutines. Cancelling ctx abandons a queued unit,
// but a unit that has started runs to completion.
func (p *Pool) Submit(ctx context.Context, unit UnitOfWork) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	waitStart := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err //nolint:wrapcheck // ctx.Err() must stay matchable with errors.Is
	}
	p.recorder.ObservePoolWait(p.name, time.Since(waitStart))

	// Admission won the slot, but a cancellation that raced the acquire
	// still counts as "not yet dispatched".
	if err := ctx.Err(); err != nil {
		p.sem.Release(1)
		return err //nolint:wrapcheck
	}
	if p.closed.Load() {
		p.sem.Release(1)
		return ErrPoolClosed
	}

	n := p.active.Add(1)
	p.recorder.SetPoolActive(p.name, int(n))
	defer func() {
		m := p.active.Add(-1)
		p.recorder.SetPoolActive(p.name, int(m))
		p.sem.Release(1)
	}()

	return unit(ctx)
}

// Run is a generic Submit for units that produce a value.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Submit(ctx, func(ctx context.Context) error {
		var ferr error
		out, ferr = fn(ctx)
		return ferr
	})
	return out, err
}

// Close rejects all future submissions. Units already admitted keep
// running.
func (p *Pool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.logger.Debug("pool closed")
	}
}

// Name returns the stage name the pool was created for.
func (p *Pool) Name() string {
	return p.name
}

// Limit returns the configured concurrency limit.
func (p *Pool) Limit() int {
	return int(p.limit)
}

// Active returns the number of units currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}
