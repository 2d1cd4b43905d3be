package pipeline

import (
	"time"

	"tokenforge/pkg/orchestrate"
	"tokenforge/pkg/token"
)

// CategoryOutcome reports what one token category yielded for one image,
// so callers can distinguish "merged token with N corroborating sources"
// from "category unavailable because zero extractors succeeded".
type CategoryOutcome struct {
	Available  bool                          `json:"available"`
	TokenCount int                           `json:"token_count"`
	Failed     []orchestrate.FailedExtractor `json:"failed_extractors,omitempty"`
	DurationMS int64                         `json:"duration_ms"`
}

// ImageResult is the terminal record for one image in a batch.
// TokenCount mirrors len(Tokens) on live runs; replayed results carry the
// count without the token payloads, which the event log does not record.
type ImageResult struct {
	TaskID      string                         `json:"task_id"`
	ImageRef    string                         `json:"image_ref"`
	ImageID     string                         `json:"image_id,omitempty"`
	Stage       Stage                          `json:"stage"`
	FailedStage Stage                          `json:"failed_stage,omitempty"`
	Error       string                         `json:"error,omitempty"`
	Tokens      []*token.Token                 `json:"tokens,omitempty"`
	TokenCount  int                            `json:"token_count"`
	Categories  map[token.Type]CategoryOutcome `json:"categories,omitempty"`
	Artifacts   map[string][]byte              `json:"-"`
	History     []Transition                   `json:"history,omitempty"`
	Elapsed     time.Duration                  `json:"-"`
	ElapsedMS   int64                          `json:"elapsed_ms"`
}

// Failed reports whether the image ended in FAILED.
func (r *ImageResult) Failed() bool {
	return r.Stage == StageFailed
}

// BatchSummary aggregates cross-image outcomes for final reporting.
type BatchSummary struct {
	Total         int                `json:"total"`
	Done          int                `json:"done"`
	Failed        int                `json:"failed"`
	FailedByStage map[Stage]int      `json:"failed_by_stage,omitempty"`
	TokensByType  map[token.Type]int `json:"tokens_by_type,omitempty"`
}

// BatchResult is what a pipeline run returns: per-image outputs plus the
// batch-level error summary.
type BatchResult struct {
	BatchID   string         `json:"batch_id"`
	Images    []*ImageResult `json:"images"`
	Summary   BatchSummary   `json:"summary"`
	StartedAt time.Time      `json:"started_at"`
	TotalTime time.Duration  `json:"-"`
	TotalMS   int64          `json:"total_ms"`
}

// PartialFailure reports whether at least one image failed while the
// batch as a whole completed.
func (b *BatchResult) PartialFailure() bool {
	return b.Summary.Failed > 0 && b.Summary.Failed < b.Summary.Total
}

func summarize(images []*ImageResult) BatchSummary {
	summary := BatchSummary{
		Total:         len(images),
		FailedByStage: make(map[Stage]int),
		TokensByType:  make(map[token.Type]int),
	}
	for _, img := range images {
		if img.Failed() {
			summary.Failed++
			summary.FailedByStage[img.FailedStage]++
			continue
		}
		// Replayed interrupted batches can hold non-terminal images;
		// those count toward Total only.
		if img.Stage != StageDone {
			continue
		}
		summary.Done++
		for _, tok := range img.Tokens {
			summary.TokensByType[tok.Type]++
		}
	}
	return summary
}
