// Package metrics provides Prometheus-based recording and querying for
// pipeline operations.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording pipeline metrics.
// Components receive a Recorder so tests can run with Nop().
type Recorder interface {
	// ObserveExtraction records one extractor invocation at one stage.
	ObserveExtraction(extractor, stage string, success bool, errorType string, duration time.Duration)

	// SetBreakerState records a circuit breaker's current state
	// (0 CLOSED, 1 OPEN, 2 HALF_OPEN).
	SetBreakerState(extractor, stage string, state int)

	// SetPoolActive records the number of units a stage pool is running.
	SetPoolActive(stage string, active int)

	// ObservePoolWait records time a unit spent queued before admission.
	ObservePoolWait(stage string, wait time.Duration)

	// IncStageTransition counts a per-image stage transition outcome.
	IncStageTransition(stage, status string)

	// AddAggregatedTokens counts tokens surviving aggregation per category.
	AddAggregatedTokens(category string, n int)

	// ObserveBatch records a completed batch run.
	ObserveBatch(duration time.Duration, images, failed int)
}

// NopRecorder implements Recorder with no-op behavior for when metrics are
// disabled.
type NopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NopRecorder{}
}

func (n *NopRecorder) ObserveExtraction(_, _ string, _ bool, _ string, _ time.Duration) {}
func (n *NopRecorder) SetBreakerState(_, _ string, _ int)                               {}
func (n *NopRecorder) SetPoolActive(_ string, _ int)                                    {}
func (n *NopRecorder) ObservePoolWait(_ string, _ time.Duration)                        {}
func (n *NopRecorder) IncStageTransition(_, _ string)                                   {}
func (n *NopRecorder) AddAggregatedTokens(_ string, _ int)                              {}
func (n *NopRecorder) ObserveBatch(_ time.Duration, _, _ int)                           {}
