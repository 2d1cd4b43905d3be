package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus
// metrics registered on the default registry.
type PrometheusRecorder struct {
	extractionsTotal   *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	breakerState       *prometheus.GaugeVec
	poolActive         *prometheus.GaugeVec
	poolWaitDuration   *prometheus.HistogramVec
	stageTransitions   *prometheus.CounterVec
	tokensAggregated   *prometheus.CounterVec
	batchDuration      prometheus.Histogram
	batchImagesTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		extractionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_requests_total",
				Help: "Total extractor invocations by extractor, stage, status, and error type",
			},
			[]string{"extractor", "stage", "status", "error_type"},
		),
		extractionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "extractor_request_duration_seconds",
				Help:    "Duration of extractor invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"extractor", "stage"},
		),
		breakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state per extractor and stage (0 closed, 1 open, 2 half-open)",
			},
			[]string{"extractor", "stage"},
		),
		poolActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pool_active_units",
				Help: "Units currently executing in a stage pool",
			},
			[]string{"stage"},
		),
		poolWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pool_wait_duration_seconds",
				Help:    "Time units spend queued before a stage pool admits them",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		stageTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_transitions_total",
				Help: "Per-image stage transitions by stage and outcome",
			},
			[]string{"stage", "status"},
		),
		tokensAggregated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokens_aggregated_total",
				Help: "Tokens surviving aggregation by category",
			},
			[]string{"category"},
		),
		batchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batch_duration_seconds",
				Help:    "End-to-end duration of batch runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		batchImagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batch_images_total",
				Help: "Images processed by batch runs, by final status",
			},
			[]string{"status"},
		),
	}
}

// ObserveExtraction records one extractor invocation.
func (p *PrometheusRecorder) ObserveExtraction(extractor, stage string, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.extractionsTotal.WithLabelValues(extractor, stage, status, errorType).Inc()
	p.extractionDuration.WithLabelValues(extractor, stage).Observe(duration.Seconds())
}

// SetBreakerState records a breaker's state.
func (p *PrometheusRecorder) SetBreakerState(extractor, stage string, state int) {
	p.breakerState.WithLabelValues(extractor, stage).Set(float64(state))
}

// SetPoolActive records a stage pool's active unit count.
func (p *PrometheusRecorder) SetPoolActive(stage string, active int) {
	p.poolActive.WithLabelValues(stage).Set(float64(active))
}

// ObservePoolWait records queue wait before pool admission.
func (p *PrometheusRecorder) ObservePoolWait(stage string, wait time.Duration) {
	p.poolWaitDuration.WithLabelValues(stage).Observe(wait.Seconds())
}

// IncStageTransition counts a per-image stage transition.
func (p *PrometheusRecorder) IncStageTransition(stage, status string) {
	p.stageTransitions.WithLabelValues(stage, status).Inc()
}

// AddAggregatedTokens counts aggregated tokens per category.
func (p *PrometheusRecorder) AddAggregatedTokens(category string, n int) {
	p.tokensAggregated.WithLabelValues(category).Add(float64(n))
}

// ObserveBatch records a completed batch run.
func (p *PrometheusRecorder) ObserveBatch(duration time.Duration, images, failed int) {
	p.batchDuration.Observe(duration.Seconds())
	p.batchImagesTotal.WithLabelValues("done").Add(float64(images - failed))
	p.batchImagesTotal.WithLabelValues("failed").Add(float64(failed))
}
