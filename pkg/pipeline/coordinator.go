package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokenforge/pkg/eventlog"
	"tokenforge/pkg/extract"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
	"tokenforge/pkg/orchestrate"
	"tokenforge/pkg/pool"
	"tokenforge/pkg/status"
	"tokenforge/pkg/task"
	"tokenforge/pkg/token"
)

// Preprocessor turns an image reference into a ProcessedImage descriptor.
type Preprocessor interface {
	Load(ctx context.Context, ref string) (extract.ProcessedImage, error)
}

// Validator checks an image's merged token set before generation.
type Validator interface {
	ValidateTokens(ctx context.Context, tokens []*token.Token) error
}

// Generator renders output artifacts (file name to content) from an
// image's merged token set.
type Generator interface {
	Generate(ctx context.Context, img extract.ProcessedImage, tokens []*token.Token) (map[string][]byte, error)
}

// ResultSink receives the finished batch for persistence. A save failure
// is logged, never propagated: the batch already ran.
type ResultSink interface {
	SaveBatch(ctx context.Context, result *BatchResult) error
}

// Config sizes the coordinator's stage pools. The extraction stage pool
// belongs to the orchestrator and is configured there.
type Config struct {
	PreprocessWorkers int
	AggregateWorkers  int
	ValidateWorkers   int
	GenerateWorkers   int

	// StageTimeout bounds each non-extraction stage unit per image.
	// Extractor calls carry their own timeouts via middleware.
	StageTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PreprocessWorkers <= 0 {
		c.PreprocessWorkers = 4
	}
	if c.AggregateWorkers <= 0 {
		c.AggregateWorkers = 4
	}
	if c.ValidateWorkers <= 0 {
		c.ValidateWorkers = 4
	}
	if c.GenerateWorkers <= 0 {
		c.GenerateWorkers = 2
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 60 * time.Second
	}
	return c
}

// Deps wires the coordinator's collaborators. Preprocessor and
// Orchestrator are required; a nil Validator or Generator makes that
// stage a pass-through, and nil Events/Status disable those sinks.
type Deps struct {
	Preprocessor Preprocessor
	Orchestrator *orchestrate.Orchestrator
	Validator    Validator
	Generator    Generator
	Recorder     metrics.Recorder
	Events       *eventlog.Writer
	Status       status.Sink
	Results      ResultSink
}

// Coordinator drives a batch of images through the five ordered stages
// using one pool per stage so a slow stage never starves the others.
type Coordinator struct {
	cfg       Config
	pre       Preprocessor
	orch      *orchestrate.Orchestrator
	validator Validator
	generator Generator
	pools     map[Stage]*pool.Pool
	recorder  metrics.Recorder
	events    *eventlog.Writer
	status    status.Sink
	results   ResultSink
	logger    *logx.Logger
}

func NewCoordinator(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Preprocessor == nil {
		return nil, fmt.Errorf("coordinator requires a preprocessor")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("coordinator requires an orchestrator")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	if deps.Status == nil {
		deps.Status = status.Nop()
	}
	cfg = cfg.withDefaults()

	pools := make(map[Stage]*pool.Pool, 4)
	for _, stage := range []struct {
		stage   Stage
		name    string
		workers int
	}{
		{StagePreprocessing, "preprocess", cfg.PreprocessWorkers},
		{StageAggregation, "aggregate", cfg.AggregateWorkers},
		{StageValidation, "validate", cfg.ValidateWorkers},
		{StageGeneration, "generate", cfg.GenerateWorkers},
	} {
		p, err := pool.New(stage.name, stage.workers, deps.Recorder)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s pool: %w", stage.name, err)
		}
		pools[stage.stage] = p
	}

	return &Coordinator{
		cfg:       cfg,
		pre:       deps.Preprocessor,
		orch:      deps.Orchestrator,
		validator: deps.Validator,
		generator: deps.Generator,
		pools:     pools,
		recorder:  deps.Recorder,
		events:    deps.Events,
		status:    deps.Status,
		results:   deps.Results,
		logger:    logx.NewLogger("coordinator"),
	}, nil
}

// Close shuts the stage pools. In-flight units finish; new submissions
// are rejected.
func (c *Coordinator) Close() {
	for _, p := range c.pools {
		p.Close()
	}
}

// Run drives each task through the pipeline and returns the batch
// outcome. One image's failure never blocks its siblings; cancellation
// stops new stage dispatch while letting in-flight units finish.
func (c *Coordinator) Run(ctx context.Context, tasks []*task.PipelineTask) (*BatchResult, error) {
	batchID := uuid.New().String()
	started := time.Now()

	sorted := sortTasks(tasks)
	c.logger.Info("🚀 batch %s: %d images", batchID, len(sorted))
	c.writeBatchEvent(eventlog.KindBatchStarted, batchID, map[string]any{"images": len(sorted)})

	results := make([]*ImageResult, len(sorted))
	var wg sync.WaitGroup
	for i, tk := range sorted {
		wg.Add(1)
		go func(i int, tk *task.PipelineTask) {
			defer wg.Done()
			results[i] = c.runImage(ctx, batchID, tk)
		}(i, tk)
	}
	wg.Wait()

	total := time.Since(started)
	result := &BatchResult{
		BatchID:   batchID,
		Images:    results,
		Summary:   summarize(results),
		StartedAt: started.UTC(),
		TotalTime: total,
		TotalMS:   total.Milliseconds(),
	}
	c.recorder.ObserveBatch(total, result.Summary.Total, result.Summary.Failed)
	c.writeBatchEvent(eventlog.KindBatchDone, batchID, map[string]any{
		"done":   result.Summary.Done,
		"failed": result.Summary.Failed,
	})
	c.logger.Info("🏁 batch %s: %d done, %d failed in %v",
		batchID, result.Summary.Done, result.Summary.Failed, total.Round(time.Millisecond))

	// Persist even when ctx was cancelled mid-batch: a partial result is
	// still a result.
	if c.results != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.results.SaveBatch(saveCtx, result); err != nil {
			c.logger.Warn("Failed to persist batch %s: %v", batchID, err)
		}
	}
	return result, nil
}

// RunImages is a convenience wrapper building one task per image ref.
func (c *Coordinator) RunImages(ctx context.Context, imageRefs []string, types []token.Type) (*BatchResult, error) {
	tasks := make([]*task.PipelineTask, 0, len(imageRefs))
	for _, ref := range imageRefs {
		tasks = append(tasks, task.NewPipelineTask(ref, types...))
	}
	return c.Run(ctx, tasks)
}

// runImage walks one task through every stage. A stage transition
// happens only after all sub-units for the previous stage have resolved.
func (c *Coordinator) runImage(ctx context.Context, batchID string, tk *task.PipelineTask) *ImageResult {
	start := time.Now()
	tracker := NewTracker(tk.TaskID, c.recorder)
	result := &ImageResult{
		TaskID:     tk.TaskID,
		ImageRef:   tk.ImageRef,
		Categories: make(map[token.Type]CategoryOutcome),
	}
	finish := func() *ImageResult {
		result.History = tracker.History()
		result.Elapsed = time.Since(start)
		result.ElapsedMS = result.Elapsed.Milliseconds()
		return result
	}
	fail := func(at Stage, err error) *ImageResult {
		tracker.Fail(at, err)
		stageErr := &StageError{Stage: at, Err: err}
		result.Stage = StageFailed
		result.FailedStage = at
		result.Error = stageErr.Error()
		c.publish(ctx, batchID, tk, StageFailed, stageErr.Error())
		c.writeTaskEvent(eventlog.KindStageFailed, batchID, tk, at, stageErr.Error())
		return finish()
	}

	c.publish(ctx, batchID, tk, StageQueued, "")
	c.writeTaskEvent(eventlog.KindTaskQueued, batchID, tk, StageQueued, "")

	if err := tk.Validate(); err != nil {
		return fail(StageQueued, err)
	}

	// Preprocessing: resolve the image ref into a descriptor.
	if err := c.enter(ctx, tracker, batchID, tk, StagePreprocessing); err != nil {
		return fail(StagePreprocessing, err)
	}
	img, err := runStage(ctx, c.pools[StagePreprocessing], c.cfg.StageTimeout, func(ctx context.Context) (extract.ProcessedImage, error) {
		return c.pre.Load(ctx, tk.ImageRef)
	})
	if err != nil {
		return fail(StagePreprocessing, err)
	}
	result.ImageID = img.ImageID

	// Extraction: fan out per requested category. The orchestrator's
	// pool bounds the individual extractor calls.
	if err := c.enter(ctx, tracker, batchID, tk, StageExtraction); err != nil {
		return fail(StageExtraction, err)
	}
	types := requestedTypes(tk)
	raws := make(map[token.Type]*orchestrate.RawResult, len(types))
	successes, failures := 0, 0
	for _, typ := range types {
		raw, err := c.orch.ExtractRaw(ctx, img, typ)
		if err != nil {
			return fail(StageExtraction, err)
		}
		raws[typ] = raw
		result.Categories[typ] = CategoryOutcome{
			Available:  len(raw.Results) > 0,
			Failed:     raw.Failed,
			DurationMS: raw.TotalTime.Milliseconds(),
		}
		successes += len(raw.Results)
		failures += len(raw.Failed)
	}
	if successes == 0 && failures > 0 {
		return fail(StageExtraction, fmt.Errorf("every extractor failed"))
	}

	// Aggregation: provenance plus dedup per category, then one merged
	// set for the image.
	if err := c.enter(ctx, tracker, batchID, tk, StageAggregation); err != nil {
		return fail(StageAggregation, err)
	}
	tokens, err := runStage(ctx, c.pools[StageAggregation], c.cfg.StageTimeout, func(_ context.Context) ([]*token.Token, error) {
		var all []*token.Token
		for _, typ := range types {
			merged := c.orch.Aggregate(img, raws[typ])
			outcome := result.Categories[typ]
			outcome.TokenCount = len(merged)
			result.Categories[typ] = outcome
			all = append(all, merged...)
		}
		token.SortStable(all)
		return all, nil
	})
	if err != nil {
		return fail(StageAggregation, err)
	}

	// Validation.
	if err := c.enter(ctx, tracker, batchID, tk, StageValidation); err != nil {
		return fail(StageValidation, err)
	}
	_, err = runStage(ctx, c.pools[StageValidation], c.cfg.StageTimeout, func(ctx context.Context) (struct{}, error) {
		if c.validator == nil {
			return struct{}{}, nil
		}
		return struct{}{}, c.validator.ValidateTokens(ctx, tokens)
	})
	if err != nil {
		return fail(StageValidation, err)
	}

	// Generation.
	if err := c.enter(ctx, tracker, batchID, tk, StageGeneration); err != nil {
		return fail(StageGeneration, err)
	}
	artifacts, err := runStage(ctx, c.pools[StageGeneration], c.cfg.StageTimeout, func(ctx context.Context) (map[string][]byte, error) {
		if c.generator == nil {
			return nil, nil
		}
		return c.generator.Generate(ctx, img, tokens)
	})
	if err != nil {
		return fail(StageGeneration, err)
	}

	if err := tracker.Advance(StageDone); err != nil {
		return fail(StageGeneration, err)
	}
	result.Stage = StageDone
	result.Tokens = tokens
	result.TokenCount = len(tokens)
	result.Artifacts = artifacts
	c.publish(ctx, batchID, tk, StageDone, fmt.Sprintf("%d tokens", len(tokens)))
	done := c.taskEvent(eventlog.KindTaskDone, batchID, tk, StageDone, "")
	done.Fields = map[string]any{"tokens": len(tokens), "image_id": img.ImageID}
	c.writeEvent(done)
	return finish()
}

// enter advances the tracker into a stage. Cancellation is checked here
// so a cancelled batch stops dispatching new stages without preempting
// running ones.
func (c *Coordinator) enter(ctx context.Context, tracker *Tracker, batchID string, tk *task.PipelineTask, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tracker.Advance(stage); err != nil {
		return err
	}
	c.publish(ctx, batchID, tk, stage, "")
	c.writeTaskEvent(eventlog.KindStageEntered, batchID, tk, stage, "")
	return nil
}

func (c *Coordinator) publish(ctx context.Context, batchID string, tk *task.PipelineTask, stage Stage, detail string) {
	update := status.Update{
		BatchID:  batchID,
		TaskID:   tk.TaskID,
		ImageRef: tk.ImageRef,
		Stage:    string(stage),
		Detail:   detail,
		At:       time.Now().UTC(),
	}
	if err := c.status.Publish(ctx, update); err != nil {
		c.logger.Debug("Status publish failed for %s: %v", tk.TaskID, err)
	}
}

func (c *Coordinator) writeBatchEvent(kind eventlog.Kind, batchID string, fields map[string]any) {
	if c.events == nil {
		return
	}
	event := eventlog.NewEvent(kind)
	event.BatchID = batchID
	event.Fields = fields
	if err := c.events.Write(event); err != nil {
		c.logger.Debug("Event log write failed: %v", err)
	}
}

func (c *Coordinator) taskEvent(kind eventlog.Kind, batchID string, tk *task.PipelineTask, stage Stage, detail string) *eventlog.Event {
	event := eventlog.NewEvent(kind)
	event.BatchID = batchID
	event.TaskID = tk.TaskID
	event.ImageRef = tk.ImageRef
	event.Stage = string(stage)
	event.Detail = detail
	return event
}

func (c *Coordinator) writeEvent(event *eventlog.Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Write(event); err != nil {
		c.logger.Debug("Event log write failed: %v", err)
	}
}

func (c *Coordinator) writeTaskEvent(kind eventlog.Kind, batchID string, tk *task.PipelineTask, stage Stage, detail string) {
	if c.events == nil {
		return
	}
	c.writeEvent(c.taskEvent(kind, batchID, tk, stage, detail))
}

// runStage submits one stage unit to the stage's pool with the
// configured per-stage timeout.
func runStage[T any](ctx context.Context, p *pool.Pool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	return pool.Run(ctx, p, func(ctx context.Context) (T, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn(ctx)
	})
}

// requestedTypes resolves the task's category list; empty means all.
func requestedTypes(tk *task.PipelineTask) []token.Type {
	if len(tk.TokenTypes) == 0 {
		return token.AllTypes()
	}
	seen := make(map[token.Type]bool, len(tk.TokenTypes))
	types := make([]token.Type, 0, len(tk.TokenTypes))
	for _, typ := range tk.TokenTypes {
		if !seen[typ] {
			seen[typ] = true
			types = append(types, typ)
		}
	}
	return types
}

// sortTasks orders admission: priority first, then submission time, then
// task ID for a stable tie-break. Pools admit FIFO, so launch order is
// queue order.
func sortTasks(tasks []*task.PipelineTask) []*task.PipelineTask {
	sorted := make([]*task.PipelineTask, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].TaskID < sorted[j].TaskID
	})
	return sorted
}
