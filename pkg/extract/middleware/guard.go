package middleware

import (
	"context"
	"fmt"

	"tokenforge/pkg/extract"
)

// ValidateOutput returns a middleware that rejects malformed extractor
// output: nil results or structurally invalid tokens. It sits inside the
// breaker layer so malformed output counts as a breaker failure, the same
// as a raised error or a timeout.
func ValidateOutput() Middleware {
	return func(next extract.Extractor) extract.Extractor {
		return extract.Func{
			ExtractorName: next.Name(),
			Fn: func(ctx context.Context, img extract.ProcessedImage) (*extract.ExtractionResult, error) {
				res, err := next.Extract(ctx, img)
				if err != nil {
					return res, err //nolint:wrapcheck // pass through unchanged
				}
				if res == nil {
					return nil, fmt.Errorf("%w: nil result from %s", extract.ErrMalformedOutput, next.Name())
				}
				for _, tok := range res.Tokens {
					if verr := tok.Validate(); verr != nil {
						return nil, fmt.Errorf("%w: %v", extract.ErrMalformedOutput, verr)
					}
				}
				return res, nil
			},
		}
	}
}
