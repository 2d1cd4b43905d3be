// Package orchestrate fans one (image, token category) pair out to every
// extractor registered for that category, isolates their failures, and
// folds the surviving tokens through provenance tracking and perceptual
// dedup into one aggregated result.
package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tokenforge/pkg/dedup"
	"tokenforge/pkg/extract"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
	"tokenforge/pkg/pool"
	"tokenforge/pkg/provenance"
	"tokenforge/pkg/token"
)

// FailedExtractor records one extractor that produced no usable output.
type FailedExtractor struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// RawResult is the fan-out outcome before aggregation: every successful
// extraction result plus every failure, and the wall-clock span of the
// parallel dispatch (never the sum of individual durations).
type RawResult struct {
	Category   token.Type                  `json:"category"`
	Results    []*extract.ExtractionResult `json:"extraction_results"`
	Failed     []FailedExtractor           `json:"failed_extractors,omitempty"`
	Dispatched int                         `json:"dispatched"`
	TotalTime  time.Duration               `json:"-"`
}

// Result adds the aggregated token set on top of the raw fan-out.
type Result struct {
	Category  token.Type                  `json:"category"`
	Tokens    []*token.Token              `json:"aggregated_tokens"`
	Results   []*extract.ExtractionResult `json:"extraction_results"`
	Failed    []FailedExtractor           `json:"failed_extractors,omitempty"`
	TotalTime time.Duration               `json:"-"`
}

// TotalTimeMS reports wall-clock duration in milliseconds for storage and
// status reporting.
func (r *Result) TotalTimeMS() int64 {
	return r.TotalTime.Milliseconds()
}

// Orchestrator owns the per-category extractor registry. Extractors are
// registered already wrapped in whatever middleware the caller wants; the
// orchestrator only schedules them and aggregates.
type Orchestrator struct {
	mu       sync.RWMutex
	registry map[token.Type][]extract.Extractor

	pool     *pool.Pool
	dedup    *dedup.Deduplicator
	recorder metrics.Recorder
	logger   *logx.Logger
}

func New(p *pool.Pool, d *dedup.Deduplicator, recorder metrics.Recorder) *Orchestrator {
	if d == nil {
		d = dedup.New()
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Orchestrator{
		registry: make(map[token.Type][]extract.Extractor),
		pool:     p,
		dedup:    d,
		recorder: recorder,
		logger:   logx.NewLogger("orchestrator"),
	}
}

// Register adds an extractor to one token category. Names must be unique
// within a category; the same extractor may serve several categories.
func (o *Orchestrator) Register(typ token.Type, e extract.Extractor) error {
	if e == nil {
		return fmt.Errorf("cannot register nil extractor")
	}
	if e.Name() == "" {
		return fmt.Errorf("extractor has empty name")
	}
	if _, err := token.ParseType(string(typ)); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.registry[typ] {
		if existing.Name() == e.Name() {
			return fmt.Errorf("extractor %s already registered for %s", e.Name(), typ)
		}
	}
	o.registry[typ] = append(o.registry[typ], e)
	o.logger.Info("Registered extractor %s for %s (%d in category)", e.Name(), typ, len(o.registry[typ]))
	return nil
}

// Unregister removes one extractor from one category. Returns false if
// the pair is unknown.
func (o *Orchestrator) Unregister(typ token.Type, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.registry[typ]
	for i, e := range list {
		if e.Name() == name {
			o.registry[typ] = append(list[:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Names returns the extractor names registered for a category, in
// registration order.
func (o *Orchestrator) Names(typ token.Type) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.registry[typ]))
	for _, e := range o.registry[typ] {
		names = append(names, e.Name())
	}
	return names
}

// Categories returns the token categories that have at least one
// registered extractor.
func (o *Orchestrator) Categories() []token.Type {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cats := make([]token.Type, 0, len(o.registry))
	for typ, list := range o.registry {
		if len(list) > 0 {
			cats = append(cats, typ)
		}
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// ExtractRaw runs every extractor registered for the category against the
// image concurrently, bounded by the stage pool. One extractor failing,
// timing out, or panicking never affects its siblings; it becomes an
// entry in Failed instead. No aggregation happens here.
func (o *Orchestrator) ExtractRaw(ctx context.Context, img extract.ProcessedImage, typ token.Type) (*RawResult, error) {
	if img.ImageID == "" {
		return nil, fmt.Errorf("image has no ID")
	}

	o.mu.RLock()
	extractors := make([]extract.Extractor, len(o.registry[typ]))
	copy(extractors, o.registry[typ])
	o.mu.RUnlock()

	raw := &RawResult{Category: typ, Results: []*extract.ExtractionResult{}, Dispatched: len(extractors)}
	if len(extractors) == 0 {
		o.logger.Debug("No extractors registered for %s, skipping %s", typ, img.ImageID)
		return raw, nil
	}

	var (
		collectMu sync.Mutex
		wg        sync.WaitGroup
	)
	addFailure := func(name, reason string) {
		collectMu.Lock()
		raw.Failed = append(raw.Failed, FailedExtractor{Name: name, Reason: reason})
		collectMu.Unlock()
	}

	start := time.Now()
	for _, ext := range extractors {
		wg.Add(1)
		go func(ext extract.Extractor) {
			defer wg.Done()
			name := ext.Name()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("Extractor %s panicked on %s/%s: %v", name, img.ImageID, typ, r)
					addFailure(name, fmt.Sprintf("panic: %v", r))
				}
			}()

			res, err := pool.Run(ctx, o.pool, func(ctx context.Context) (*extract.ExtractionResult, error) {
				return ext.Extract(ctx, img)
			})
			if err != nil {
				o.logger.Warn("Extractor %s failed on %s/%s: %v", name, img.ImageID, typ, err)
				addFailure(name, err.Error())
				return
			}
			if res == nil {
				addFailure(name, "extractor returned no result")
				return
			}

			collectMu.Lock()
			raw.Results = append(raw.Results, res)
			collectMu.Unlock()
		}(ext)
	}
	wg.Wait()
	raw.TotalTime = time.Since(start)

	// Deterministic ordering regardless of goroutine scheduling.
	sort.Slice(raw.Failed, func(i, j int) bool { return raw.Failed[i].Name < raw.Failed[j].Name })
	sort.Slice(raw.Results, func(i, j int) bool { return raw.Results[i].ExtractorName < raw.Results[j].ExtractorName })
	return raw, nil
}

// Aggregate stamps provenance onto every raw token for the category and
// collapses near-duplicates. Tokens outside the requested category are
// dropped so one multi-purpose extractor cannot leak spacing values into
// a color pass.
func (o *Orchestrator) Aggregate(img extract.ProcessedImage, raw *RawResult) []*token.Token {
	var pending []*token.Token
	for _, res := range raw.Results {
		src := token.Source{Extractor: res.ExtractorName, ImageID: img.ImageID}
		for _, tok := range res.Tokens {
			if tok == nil || tok.Type != raw.Category {
				continue
			}
			src.Confidence = tok.Confidence
			provenance.Track(tok, src)
			pending = append(pending, tok)
		}
	}

	merged := o.dedup.Merge(pending)
	o.recorder.AddAggregatedTokens(string(raw.Category), len(merged))
	return merged
}

// ExtractAll is the one-shot orchestration for one (image, category)
// pair: fan out, await everything, aggregate. The returned error covers
// only unusable input; extractor failures land in Result.Failed. Total
// failure is a completed zero-yield outcome, not an error.
func (o *Orchestrator) ExtractAll(ctx context.Context, img extract.ProcessedImage, typ token.Type) (*Result, error) {
	raw, err := o.ExtractRaw(ctx, img, typ)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Category:  typ,
		Tokens:    o.Aggregate(img, raw),
		Results:   raw.Results,
		Failed:    raw.Failed,
		TotalTime: raw.TotalTime,
	}
	o.logger.Info("🎨 %s/%s: %d tokens from %d/%d extractors in %v",
		img.ImageID, typ, len(result.Tokens), len(raw.Results), raw.Dispatched,
		raw.TotalTime.Round(time.Millisecond))
	return result, nil
}

// ExtractAllSafe is ExtractAll with the error swallowed: bad input yields
// an empty result so a caller looping over a batch never has to branch.
func (o *Orchestrator) ExtractAllSafe(ctx context.Context, img extract.ProcessedImage, typ token.Type) *Result {
	res, err := o.ExtractAll(ctx, img, typ)
	if err != nil {
		o.logger.Error("ExtractAll rejected image %q for %s: %v", img.ImageID, typ, err)
		return &Result{Category: typ, Tokens: []*token.Token{}, Results: []*extract.ExtractionResult{}}
	}
	return res
}
