// Package pipeline drives batches of images through the five ordered
// extraction stages, one bounded pool per stage, with per-image failure
// isolation.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
)

// Stage identifies one step of the per-image state machine.
type Stage string

const (
	StageQueued        Stage = "QUEUED"
	StagePreprocessing Stage = "PREPROCESSING"
	StageExtraction    Stage = "EXTRACTION"
	StageAggregation   Stage = "AGGREGATION"
	StageValidation    Stage = "VALIDATION"
	StageGeneration    Stage = "GENERATION"
	StageDone          Stage = "DONE"
	StageFailed        Stage = "FAILED"
)

func (s Stage) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// workStages is the pipeline order an image travels when nothing fails.
var workStages = []Stage{
	StagePreprocessing,
	StageExtraction,
	StageAggregation,
	StageValidation,
	StageGeneration,
}

// ValidTransitions defines allowed stage transitions for each stage.
var ValidTransitions = map[Stage][]Stage{
	StageQueued:        {StagePreprocessing},
	StagePreprocessing: {StageExtraction},
	StageExtraction:    {StageAggregation},
	StageAggregation:   {StageValidation},
	StageValidation:    {StageGeneration},
	StageGeneration:    {StageDone},
}

// ErrInvalidTransition is returned when a stage transition is not allowed.
var ErrInvalidTransition = errors.New("invalid stage transition")

// StageError wraps the failure that stopped an image at a stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Transition records one stage change for an image.
type Transition struct {
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker is the per-image state machine. FAILED is reachable from any
// non-terminal stage; everything else follows pipeline order.
type Tracker struct {
	taskID      string
	mu          sync.Mutex
	current     Stage
	failedAt    Stage
	cause       error
	transitions []Transition
	recorder    metrics.Recorder
	logger      *logx.Logger
}

// NewTracker creates a tracker starting at QUEUED.
func NewTracker(taskID string, recorder metrics.Recorder) *Tracker {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Tracker{
		taskID:      taskID,
		current:     StageQueued,
		transitions: make([]Transition, 0),
		recorder:    recorder,
		logger:      logx.NewLogger("pipeline"),
	}
}

// Current returns the image's current stage.
func (t *Tracker) Current() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// IsValidTransition checks whether from may move to to. Any non-terminal
// stage may move to FAILED.
func IsValidTransition(from, to Stage) bool {
	if to == StageFailed {
		return !from.Terminal()
	}
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Advance moves the image to the next stage.
func (t *Tracker) Advance(to Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.current
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to)
	}

	t.record(from, to)
	t.logger.Debug("🔄 %s: %s → %s", t.taskID, from, to)
	return nil
}

// Fail marks the image FAILED, remembering the stage it failed at and
// the cause. Failing a terminal image is a no-op.
func (t *Tracker) Fail(at Stage, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.Terminal() {
		return
	}

	from := t.current
	t.failedAt = at
	t.cause = cause
	t.record(from, StageFailed)
	t.logger.Warn("🔄 %s: %s → FAILED at %s: %v", t.taskID, from, at, cause)
}

func (t *Tracker) record(from, to Stage) {
	t.transitions = append(t.transitions, Transition{From: from, To: to, Timestamp: time.Now().UTC()})
	t.current = to
	t.recorder.IncStageTransition(string(to), transitionStatus(to))
}

func transitionStatus(to Stage) string {
	switch to {
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	default:
		return "entered"
	}
}

// FailedStage returns the stage the image failed at, or "" if it has not
// failed.
func (t *Tracker) FailedStage() Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failedAt
}

// Cause returns the failure cause, or nil.
func (t *Tracker) Cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// History returns a copy of the recorded transitions.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.transitions))
	copy(out, t.transitions)
	return out
}
