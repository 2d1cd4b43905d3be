// Package middleware provides composable wrappers around Extractors:
// timeout, circuit breaking, output validation, and metrics. The
// orchestrator composes a stack per (extractor, stage) pair.
package middleware

import (
	"time"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extract/circuit"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
)

// Middleware represents a function that wraps an Extractor with additional
// behavior. Middlewares are composed using Chain() to create a processing
// pipeline.
type Middleware func(next extract.Extractor) extract.Extractor

// Chain composes multiple middlewares around a base Extractor.
// Middlewares are applied in order, with earlier middlewares being
// outermost.
//
// For example: Chain(ext, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> ext
//
// This means mw1 runs first and can short-circuit before the call reaches
// mw2, mw3, and finally the base extractor.
func Chain(base extract.Extractor, middlewares ...Middleware) extract.Extractor {
	// Apply middlewares in reverse order so that the first middleware in the
	// slice becomes the outermost wrapper.
	ext := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		ext = middlewares[i](ext)
	}
	return ext
}

// Resilient wraps an extractor with the standard per-stage stack:
//
//	metrics -> breaker -> timeout -> output validation -> base
//
// Metrics sits outermost so circuit-open fast fails are observed; timeout
// sits inside the breaker so expiries count as breaker failures; output
// validation sits innermost so malformed results do too.
func Resilient(base extract.Extractor, b *circuit.Breaker, stage string, callTimeout time.Duration, recorder metrics.Recorder, logger *logx.Logger) extract.Extractor {
	return Chain(base,
		Metrics(recorder, stage, logger),
		Breaker(b, stage, recorder),
		Timeout(callTimeout),
		ValidateOutput(),
	)
}
