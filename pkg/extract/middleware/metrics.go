package middleware

import (
	"context"
	"errors"
	"time"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extract/circuit"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics returns a middleware that records latency, outcome, and error
// type for every extractor call. Placed outermost so circuit-open fast
// fails are observed too.
func Metrics(recorder metrics.Recorder, stage string, logger *logx.Logger) Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next extract.Extractor) extract.Extractor {
		return extract.Func{
			ExtractorName: next.Name(),
			Fn: func(ctx context.Context, img extract.ProcessedImage) (*extract.ExtractionResult, error) {
				start := time.Now()
				res, err := next.Extract(ctx, img)
				duration := time.Since(start)

				errorType := ""
				if err != nil {
					errorType = ErrorType(err)
				}
				recorder.ObserveExtraction(next.Name(), stage, err == nil, errorType, duration)

				if logger != nil {
					status := statusSuccess
					yield := 0
					if err != nil {
						status = statusError
					} else if res != nil {
						yield = len(res.Tokens)
					}
					logger.Debug("extractor=%s stage=%s image=%s status=%s tokens=%d duration=%dms",
						next.Name(), stage, img.ImageID, status, yield, duration.Milliseconds())
				}

				return res, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
		}
	}
}

// ErrorType classifies errors for metrics labeling and failure reporting.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var cbErr *circuit.Error
	switch {
	case errors.As(err, &cbErr):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, extract.ErrMalformedOutput):
		return "malformed"
	default:
		return "error"
	}
}
