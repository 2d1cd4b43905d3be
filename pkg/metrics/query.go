package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ExtractorMetrics represents aggregated metrics for one extractor.
type ExtractorMetrics struct {
	Extractor    string  `json:"extractor"`
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	CircuitOpens int64   `json:"circuit_opens"`
	ErrorRate    float64 `json:"error_rate"`
}

// PipelineMetrics represents aggregated pipeline throughput.
type PipelineMetrics struct {
	ImagesDone       int64            `json:"images_done"`
	ImagesFailed     int64            `json:"images_failed"`
	TokensAggregated map[string]int64 `json:"tokens_aggregated"`
}

// QueryService queries a Prometheus server for pipeline metrics. The stats
// command uses it; the pipeline itself never reads Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("query %q: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetExtractorMetrics retrieves per-extractor request and error totals.
func (q *QueryService) GetExtractorMetrics(ctx context.Context, extractor string) (*ExtractorMetrics, error) {
	m := &ExtractorMetrics{Extractor: extractor}

	requests, err := q.scalar(ctx, fmt.Sprintf(`sum(extractor_requests_total{extractor=%q})`, extractor))
	if err != nil {
		return nil, err
	}
	m.Requests = int64(requests)

	errs, err := q.scalar(ctx, fmt.Sprintf(`sum(extractor_requests_total{extractor=%q, status="error"})`, extractor))
	if err != nil {
		return nil, err
	}
	m.Errors = int64(errs)

	opens, err := q.scalar(ctx, fmt.Sprintf(`sum(extractor_requests_total{extractor=%q, error_type="circuit_open"})`, extractor))
	if err != nil {
		return nil, err
	}
	m.CircuitOpens = int64(opens)

	if m.Requests > 0 {
		m.ErrorRate = float64(m.Errors) / float64(m.Requests)
	}
	return m, nil
}

// ListExtractors returns every extractor name Prometheus has seen.
func (q *QueryService) ListExtractors(ctx context.Context) ([]string, error) {
	result, _, err := q.queryAPI.Query(ctx, `group by (extractor) (extractor_requests_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query extractors: %w", err)
	}

	var names []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["extractor"]; ok {
				names = append(names, string(name))
			}
		}
	}
	return names, nil
}

// GetPipelineMetrics retrieves batch throughput and aggregation yields.
func (q *QueryService) GetPipelineMetrics(ctx context.Context) (*PipelineMetrics, error) {
	m := &PipelineMetrics{TokensAggregated: make(map[string]int64)}

	done, err := q.scalar(ctx, `sum(batch_images_total{status="done"})`)
	if err != nil {
		return nil, err
	}
	m.ImagesDone = int64(done)

	failed, err := q.scalar(ctx, `sum(batch_images_total{status="failed"})`)
	if err != nil {
		return nil, err
	}
	m.ImagesFailed = int64(failed)

	result, _, err := q.queryAPI.Query(ctx, `sum by (category) (tokens_aggregated_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query aggregated tokens: %w", err)
	}
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if category, ok := sample.Metric["category"]; ok {
				m.TokensAggregated[string(category)] = int64(sample.Value)
			}
		}
	}
	return m, nil
}
