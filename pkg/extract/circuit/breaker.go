// Package circuit implements a per-(extractor, stage) circuit breaker.
// A breaker is owned exclusively by one extractor/stage pair and is never
// shared, so all state lives behind a single mutex.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokenforge/pkg/logx"
)

// State represents the state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // Normal operation, calls pass through
	StateOpen                  // Failing, calls rejected without invoking the extractor
	StateHalfOpen              // Recovery window elapsed, one trial call admitted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines breaker behavior.
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	RecoveryTimeout  time.Duration // Wait before admitting a trial call
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{ //nolint:gochecknoglobals
	FailureThreshold: 5,
	RecoveryTimeout:  30 * time.Second,
}

// Error is returned when a breaker rejects a call without invoking the
// extractor.
type Error struct {
	Name  string
	State State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Breaker isolates one failing extractor at one stage. Exactly one trial
// call is admitted while HALF_OPEN.
type Breaker struct {
	name            string
	cfg             Config
	logger          *logx.Logger
	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// New creates a breaker named after its (extractor, stage) pair, e.g.
// "claude/extraction". Zero config fields fall back to DefaultConfig.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig.RecoveryTimeout
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logx.NewLogger("circuit"),
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed. A nil return admits the call;
// the caller must follow up with Record. While OPEN, Allow transitions to
// HALF_OPEN once the recovery window has elapsed and the transitioning
// caller becomes the single admitted trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.trialInFlight = true
			b.logger.Info("breaker %s entering HALF_OPEN, admitting trial call", b.name)
			return nil
		}
		return &Error{Name: b.name, State: StateOpen}

	case StateHalfOpen:
		if b.trialInFlight {
			return &Error{Name: b.name, State: StateHalfOpen}
		}
		b.trialInFlight = true
		return nil

	default:
		return &Error{Name: b.name, State: b.state}
	}
}

// Record registers the outcome of an admitted call. Timeouts and malformed
// output are recorded as failures by the middleware layer.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.logger.Info("breaker %s trial succeeded, circuit CLOSED", b.name)
	case StateOpen:
		// Late success from a call admitted before the circuit opened.
		// The circuit stays open until a trial confirms recovery.
	}
}

func (b *Breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.logger.Warn("⚡ breaker %s OPENED after %d consecutive failures", b.name, b.failureCount)
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("⚡ breaker %s trial failed, back to OPEN", b.name)
	case StateOpen:
		// Late failure refreshes the recovery timer.
	}
}

// Call executes fn under the breaker: fail fast when the state forbids the
// call, otherwise run fn and record its outcome.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err == nil)
	return err
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Name returns the (extractor, stage) label the breaker was created with.
func (b *Breaker) Name() string {
	return b.name
}

// Reset manually returns the breaker to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false
}

// Stats is a point-in-time snapshot for logs and the ops endpoint.
type Stats struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailure   *time.Time `json:"last_failure,omitempty"`
	OpenSince     *time.Time `json:"open_since,omitempty"`
	TrialInFlight bool       `json:"trial_in_flight"`
}

// GetStats returns current statistics.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Name:          b.name,
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		TrialInFlight: b.trialInFlight,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		stats.LastFailure = &t
		if b.state == StateOpen {
			stats.OpenSince = &t
		}
	}
	return stats
}
