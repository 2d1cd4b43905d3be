package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"tokenforge/pkg/eventlog"
	"tokenforge/pkg/generate"
	"tokenforge/pkg/persistence"
	"tokenforge/pkg/pipeline"
)

var reportCmd = &cobra.Command{
	Use:   "report [batch-id]",
	Short: "Render the summary report for a finished batch",
	Long: `Renders the markdown summary for one batch. The batch is loaded from the
results database when one is configured; otherwise it is rebuilt from the
event log. Without a batch ID the most recent batch is used.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runReport(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().Bool("raw", false, "Print raw markdown without terminal rendering")
	reportCmd.Flags().Bool("events", false, "Rebuild from the event log even when a results database exists")
}

func runReport(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	batchID := ""
	if len(args) > 0 {
		batchID = args[0]
	}

	fromEvents, _ := cmd.Flags().GetBool("events")
	var result *pipeline.BatchResult
	if cfg.Store.SQLitePath != "" && !fromEvents {
		result, err = loadStoredBatch(context.Background(), cfg.Store.SQLitePath, batchID)
	} else {
		result, err = replayLoggedBatch(cfg.Store.EventLogDir, batchID)
	}
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	markdown := generate.BatchMarkdown(result)
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		fmt.Print(string(markdown))
		return
	}

	printReportHeader(result.BatchID)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		fmt.Print(string(markdown))
		return
	}
	out, err := renderer.Render(string(markdown))
	if err != nil {
		fmt.Print(string(markdown))
		return
	}
	fmt.Print(out)
}

func printReportHeader(batchID string) {
	p := termenv.ColorProfile()
	name := termenv.String("🎨 tokenforge").Foreground(p.Color("#c084fc")).Bold()
	id := termenv.String(batchID).Foreground(p.Color("#818cf8"))
	fmt.Printf("%s  batch %s\n", name, id)
}

// loadStoredBatch reads one batch from SQLite and reshapes it for the
// markdown renderer. Token payloads stay in the database; the report only
// needs counts.
func loadStoredBatch(ctx context.Context, dbPath, batchID string) (*pipeline.BatchResult, error) {
	store, err := persistence.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	var detail *persistence.BatchDetail
	if batchID == "" {
		detail, err = store.LatestBatch(ctx)
	} else {
		detail, err = store.GetBatch(ctx, batchID)
	}
	if err != nil {
		return nil, err
	}

	counts, err := store.TokenCountsByType(ctx, detail.Batch.ID)
	if err != nil {
		return nil, err
	}

	result := &pipeline.BatchResult{
		BatchID:   detail.Batch.ID,
		StartedAt: detail.Batch.StartedAt,
		TotalMS:   detail.Batch.TotalMS,
		Summary: pipeline.BatchSummary{
			Total:         detail.Batch.ImagesTotal,
			Done:          detail.Batch.ImagesDone,
			Failed:        detail.Batch.ImagesFailed,
			FailedByStage: make(map[pipeline.Stage]int),
			TokensByType:  counts,
		},
	}
	for _, rec := range detail.Images {
		img := &pipeline.ImageResult{
			TaskID:      rec.TaskID,
			ImageRef:    rec.ImageRef,
			ImageID:     rec.ImageID,
			Stage:       pipeline.Stage(rec.Stage),
			FailedStage: pipeline.Stage(rec.FailedStage),
			Error:       rec.Error,
			TokenCount:  rec.TokenCount,
			ElapsedMS:   rec.ElapsedMS,
		}
		if img.Failed() {
			result.Summary.FailedByStage[img.FailedStage]++
		}
		result.Images = append(result.Images, img)
	}
	return result, nil
}

// replayLoggedBatch folds the JSONL event logs back into a batch result.
func replayLoggedBatch(logDir, batchID string) (*pipeline.BatchResult, error) {
	files, err := eventlog.ListLogFiles(logDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no event logs found in %s", logDir)
	}
	sort.Strings(files) // daily file names sort chronologically

	var events []*eventlog.Event
	for _, file := range files {
		read, err := eventlog.ReadEvents(file)
		if err != nil {
			return nil, err
		}
		events = append(events, read...)
	}

	if batchID == "" {
		batchID = pipeline.LatestBatchID(events)
		if batchID == "" {
			return nil, fmt.Errorf("no batches found in %s", logDir)
		}
	}
	return pipeline.ReplayBatch(events, batchID)
}
