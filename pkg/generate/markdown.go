package generate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tokenforge/pkg/pipeline"
	"tokenforge/pkg/token"
	"tokenforge/pkg/utils"
)

// BatchMarkdown renders a batch result as a markdown report. The report
// command feeds this through a terminal renderer; the raw markdown is also
// written alongside the per-image artifacts.
func BatchMarkdown(result *pipeline.BatchResult) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Batch %s\n\n", result.BatchID)
	fmt.Fprintf(&b, "Started %s, finished in %s.\n\n",
		result.StartedAt.Format(time.RFC3339), fmtMS(result.TotalMS))

	fmt.Fprintf(&b, "| Images | Done | Failed |\n|---|---|---|\n| %d | %d | %d |\n\n",
		result.Summary.Total, result.Summary.Done, result.Summary.Failed)

	if len(result.Summary.TokensByType) > 0 {
		b.WriteString("## Tokens\n\n| Category | Count |\n|---|---|\n")
		for _, typ := range token.AllTypes() {
			if n := result.Summary.TokensByType[typ]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", typ, n)
			}
		}
		b.WriteString("\n")
	}

	if len(result.Summary.FailedByStage) > 0 {
		b.WriteString("## Failures by stage\n\n| Stage | Images |\n|---|---|\n")
		for _, stage := range []pipeline.Stage{
			pipeline.StageQueued, pipeline.StagePreprocessing, pipeline.StageExtraction,
			pipeline.StageAggregation, pipeline.StageValidation, pipeline.StageGeneration,
		} {
			if n := result.Summary.FailedByStage[stage]; n > 0 {
				fmt.Fprintf(&b, "| %s | %d |\n", stage, n)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Images\n\n")
	for _, img := range result.Images {
		if img == nil {
			continue
		}
		switch {
		case img.Failed():
			fmt.Fprintf(&b, "- ❌ `%s` failed at %s: %s\n", img.ImageRef, img.FailedStage, img.Error)
		case img.Stage != pipeline.StageDone:
			// Only replayed interrupted batches reach here.
			fmt.Fprintf(&b, "- ⚠️ `%s` interrupted at %s\n", img.ImageRef, img.Stage)
		default:
			fmt.Fprintf(&b, "- ✅ `%s`: %d tokens in %s\n", img.ImageRef, tokenCount(img), fmtMS(img.ElapsedMS))
		}
	}
	b.WriteString("\n")

	return []byte(b.String())
}

// tokenCount prefers the recorded count; replayed results carry no token
// payloads.
func tokenCount(img *pipeline.ImageResult) int {
	if img.TokenCount > 0 {
		return img.TokenCount
	}
	return len(img.Tokens)
}

func fmtMS(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

// WriteArtifacts persists each image's generated artifacts plus the batch
// markdown under dir. Per-image files land in dir/<image_id>/.
func WriteArtifacts(dir string, result *pipeline.BatchResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir %s: %w", dir, err)
	}

	for _, img := range result.Images {
		if img == nil || len(img.Artifacts) == 0 {
			continue
		}
		sub := img.ImageID
		if sub == "" {
			sub = img.TaskID
		}
		// Task IDs from submitted task files are arbitrary strings.
		imgDir := filepath.Join(dir, utils.SanitizeIdentifier(sub))
		if err := os.MkdirAll(imgDir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", imgDir, err)
		}
		for name, data := range img.Artifacts {
			path := filepath.Join(imgDir, name)
			if err := os.WriteFile(path, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
		}
	}

	summary := filepath.Join(dir, fmt.Sprintf("batch-%s.md", result.BatchID))
	if err := os.WriteFile(summary, BatchMarkdown(result), 0644); err != nil {
		return fmt.Errorf("failed to write batch summary: %w", err)
	}
	return nil
}
