// Package extract defines the uniform contract every concrete extraction
// strategy satisfies, plus the descriptors that cross it. CV-based,
// clustering-based, and AI-model-based extractors are interchangeable behind
// Extractor; the pipeline core never sees anything more specific.
package extract

import (
	"context"
	"errors"
	"time"

	"tokenforge/pkg/token"
)

// ErrMalformedOutput marks extractor output that parsed but is unusable
// (nil result, invalid tokens). Counts as a breaker failure like any error.
var ErrMalformedOutput = errors.New("extractor returned malformed output")

// ProcessedImage is the opaque descriptor the preprocessing collaborator
// hands to extractors. Data may be empty when Ref points at externally
// stored bytes.
type ProcessedImage struct {
	ImageID string `json:"image_id"`
	Ref     string `json:"ref,omitempty"`
	Data    []byte `json:"-"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format"`
}

// ConfidenceRange is the min/max confidence observed across one extractor
// invocation's tokens.
type ConfidenceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ExtractionResult is the output of one extractor invocation. Immutable;
// owned by the orchestrator until merged.
type ExtractionResult struct {
	Tokens          []*token.Token  `json:"tokens"`
	ExtractorName   string          `json:"extractor_name"`
	ExecutionTime   time.Duration   `json:"execution_time"`
	ConfidenceRange ConfidenceRange `json:"confidence_range"`
}

// NewResult assembles an ExtractionResult, computing the confidence range
// from the tokens.
func NewResult(extractorName string, tokens []*token.Token, took time.Duration) *ExtractionResult {
	res := &ExtractionResult{
		Tokens:        tokens,
		ExtractorName: extractorName,
		ExecutionTime: took,
	}
	for i, t := range tokens {
		if i == 0 || t.Confidence < res.ConfidenceRange.Min {
			res.ConfidenceRange.Min = t.Confidence
		}
		if t.Confidence > res.ConfidenceRange.Max {
			res.ConfidenceRange.Max = t.Confidence
		}
	}
	return res
}

// Extractor is the sole contract concrete strategies must satisfy.
// Extract blocks until done or ctx expires; implementations must be safe
// for concurrent use.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, img ProcessedImage) (*ExtractionResult, error)
}

// Func adapts a bare function into an Extractor. Tests and middleware use
// this; production strategies implement the interface directly.
type Func struct {
	ExtractorName string
	Fn            func(ctx context.Context, img ProcessedImage) (*ExtractionResult, error)
}

func (f Func) Name() string {
	return f.ExtractorName
}

func (f Func) Extract(ctx context.Context, img ProcessedImage) (*ExtractionResult, error) {
	return f.Fn(ctx, img)
}
