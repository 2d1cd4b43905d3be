package middleware

import (
	"context"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extract/circuit"
	"tokenforge/pkg/metrics"
)

// Breaker returns a middleware that guards extractor calls with a circuit
// breaker. When the circuit rejects a call, the underlying extractor is
// never invoked. The breaker's state is mirrored to the recorder's gauge
// after every attempt.
func Breaker(b *circuit.Breaker, stage string, recorder metrics.Recorder) Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next extract.Extractor) extract.Extractor {
		return extract.Func{
			ExtractorName: next.Name(),
			Fn: func(ctx context.Context, img extract.ProcessedImage) (*extract.ExtractionResult, error) {
				if err := b.Allow(); err != nil {
					recorder.SetBreakerState(next.Name(), stage, int(b.GetState()))
					return nil, err
				}

				res, err := next.Extract(ctx, img)
				b.Record(err == nil)
				recorder.SetBreakerState(next.Name(), stage, int(b.GetState()))

				return res, err //nolint:wrapcheck // Middleware passes errors through unchanged
			},
		}
	}
}
