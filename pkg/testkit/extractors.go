// Package testkit provides scripted extractors, token fixtures, and an
// in-memory status sink for tests. Nothing here is imported by
// production code.
package testkit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/token"
)

// ScriptedExtractor is an extract.Extractor whose behavior is set by its
// fields. The zero value succeeds immediately and yields no tokens.
type ScriptedExtractor struct {
	ExtractorName string
	Tokens        []*token.Token // yielded on success, cloned per call
	Delay         time.Duration  // simulated work, interruptible by ctx
	Err           error          // returned on every call when set
	FailFirst     int            // fail this many calls, then succeed

	calls atomic.Int64
}

func (s *ScriptedExtractor) Name() string {
	if s.ExtractorName == "" {
		return "scripted"
	}
	return s.ExtractorName
}

// Calls reports how many times Extract has been invoked.
func (s *ScriptedExtractor) Calls() int {
	return int(s.calls.Load())
}

// Extract implements extract.Extractor. Yielded tokens are clones so a
// caller mutating them cannot corrupt later calls.
func (s *ScriptedExtractor) Extract(ctx context.Context, _ extract.ProcessedImage) (*extract.ExtractionResult, error) {
	n := s.calls.Add(1)
	start := time.Now()

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.Err != nil {
		return nil, s.Err
	}
	if int(n) <= s.FailFirst {
		return nil, fmt.Errorf("scripted failure %d of %d", n, s.FailFirst)
	}

	tokens := make([]*token.Token, len(s.Tokens))
	for i, t := range s.Tokens {
		tokens[i] = t.Clone()
	}
	return extract.NewResult(s.Name(), tokens, time.Since(start)), nil
}
