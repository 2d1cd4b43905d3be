package middleware

import (
	"context"
	"time"

	"tokenforge/pkg/extract"
)

// Timeout returns a middleware that bounds each extractor call. An expired
// deadline surfaces as context.DeadlineExceeded, which the breaker layer
// above records as a failure.
func Timeout(duration time.Duration) Middleware {
	return func(next extract.Extractor) extract.Extractor {
		return extract.Func{
			ExtractorName: next.Name(),
			Fn: func(ctx context.Context, img extract.ProcessedImage) (*extract.ExtractionResult, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				return next.Extract(timeoutCtx, img)
			},
		}
	}
}
