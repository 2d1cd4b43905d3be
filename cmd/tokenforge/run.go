package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tokenforge/pkg/config"
	"tokenforge/pkg/dedup"
	"tokenforge/pkg/eventlog"
	"tokenforge/pkg/extract"
	"tokenforge/pkg/extract/circuit"
	"tokenforge/pkg/extract/middleware"
	"tokenforge/pkg/extractors/anthropic"
	"tokenforge/pkg/extractors/google"
	"tokenforge/pkg/extractors/ollama"
	"tokenforge/pkg/extractors/openai"
	"tokenforge/pkg/generate"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/metrics"
	"tokenforge/pkg/opshttp"
	"tokenforge/pkg/orchestrate"
	"tokenforge/pkg/persistence"
	"tokenforge/pkg/pipeline"
	"tokenforge/pkg/pool"
	"tokenforge/pkg/preprocess"
	"tokenforge/pkg/status"
	"tokenforge/pkg/task"
	"tokenforge/pkg/token"
	"tokenforge/pkg/validate"
)

var runCmd = &cobra.Command{
	Use:   "run [image refs...]",
	Short: "Run the extraction pipeline over a batch of images",
	Long: `Runs every given image (file path, glob pattern, or http(s) URL) through
the pipeline and writes token artifacts to the output directory. Batches
can also be submitted as a JSONL task file via --tasks, one per line.

SIGINT stops dispatching new work; stages already running finish and the
partial batch is persisted.`,
	Run: func(cmd *cobra.Command, args []string) {
		runBatch(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSlice("types", nil, "Token categories to extract (default: all)")
	runCmd.Flags().String("tasks", "", "JSONL task file to run instead of image arguments")
	runCmd.Flags().String("output", "", "Artifact output directory (default: store.output_dir)")
	runCmd.Flags().String("ops-addr", "", "Ops HTTP listen address (default: ops.addr)")
	runCmd.Flags().String("priority", "normal", "Priority for image arguments: low, normal, or high")
	runCmd.Flags().String("label", "", "Batch label recorded in task metadata")
	runCmd.Flags().Int("concurrency", 0, "Max concurrent extractor calls (overrides pools.extract)")
	runCmd.Flags().String("redis", "", "Redis address for live task status (enables the sink)")
}

func runBatch(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		cfg.Pools.Extract = n
	}
	if addr, _ := cmd.Flags().GetString("redis"); addr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
	}

	tasks, err := buildTasks(cmd, args)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if len(tasks) == 0 {
		fmt.Println("Nothing to do: pass image paths or URLs, or --tasks <file>.")
		os.Exit(1)
	}

	if len(cfg.EnabledExtractors()) == 0 {
		fmt.Println("❌ No extractors enabled. Enable at least one provider under extractors: in the config file.")
		os.Exit(1)
	}

	secrets, err := openSecrets(cmd)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer secrets.Lock()

	recorder := metrics.NewPrometheusRecorder()

	extractPool, err := pool.New("extract", cfg.Pools.Extract, recorder)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer extractPool.Close()

	var dedupOpts []dedup.Option
	for typ, threshold := range cfg.DedupThresholds() {
		dedupOpts = append(dedupOpts, dedup.WithThreshold(typ, threshold))
	}
	orch := orchestrate.New(extractPool, dedup.New(dedupOpts...), recorder)

	breakers, err := registerExtractors(orch, cfg, secrets, recorder)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	events, err := eventlog.NewWriter(cfg.Store.EventLogDir)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = events.Close() }()

	deps := pipeline.Deps{
		Preprocessor: preprocess.NewLoader(nil),
		Orchestrator: orch,
		Validator:    validate.NewChecker(),
		Generator:    generate.NewRenderer(),
		Recorder:     recorder,
		Events:       events,
	}

	var statuses *status.RedisSink
	if cfg.Redis.Enabled {
		statuses = openStatusSink(cfg, secrets)
		defer func() { _ = statuses.Close() }()
		deps.Status = statuses
	}

	if cfg.Store.SQLitePath != "" {
		store, err := persistence.Open(cfg.Store.SQLitePath)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
		deps.Results = store
	}

	coord, err := pipeline.NewCoordinator(pipeline.Config{
		PreprocessWorkers: cfg.Pools.Preprocess,
		AggregateWorkers:  cfg.Pools.Aggregate,
		ValidateWorkers:   cfg.Pools.Validate,
		GenerateWorkers:   cfg.Pools.Generate,
		StageTimeout:      cfg.Timeouts.Stage,
	}, deps)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opsAddr, _ := cmd.Flags().GetString("ops-addr")
	if opsAddr == "" {
		opsAddr = cfg.Ops.Addr
	}
	if opsAddr != "" {
		opts := []opshttp.Option{opshttp.WithBreakerStats(breakerStats(breakers))}
		if statuses != nil {
			opts = append(opts, opshttp.WithStatusReader(statuses))
		}
		ops := opshttp.New(opsAddr, opts...)
		ops.Start(ctx)
		ops.SetReady(true)
	}

	result, err := coord.Run(ctx, tasks)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		logx.Warnf("⚠️  Batch %s interrupted; partial results were persisted", result.BatchID)
	}

	outputDir, _ := cmd.Flags().GetString("output")
	if outputDir == "" {
		outputDir = cfg.Store.OutputDir
	}
	if err := generate.WriteArtifacts(outputDir, result); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Batch %s: %d done, %d failed in %s. Artifacts in %s.\n",
		result.BatchID, result.Summary.Done, result.Summary.Failed,
		result.TotalTime.Round(time.Millisecond), outputDir)
	if result.Summary.Done == 0 && result.Summary.Failed > 0 {
		os.Exit(1)
	}
}

// buildTasks assembles the batch from either a task file or the image
// arguments. The two forms are mutually exclusive so a typo'd flag never
// silently halves a batch.
func buildTasks(cmd *cobra.Command, args []string) ([]*task.PipelineTask, error) {
	if path, _ := cmd.Flags().GetString("tasks"); path != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--tasks and image arguments are mutually exclusive")
		}
		return readTaskFile(path)
	}

	typeNames, _ := cmd.Flags().GetStringSlice("types")
	types := make([]token.Type, 0, len(typeNames))
	for _, name := range typeNames {
		typ, err := token.ParseType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, typ)
	}

	priorityName, _ := cmd.Flags().GetString("priority")
	priority, err := parsePriority(priorityName)
	if err != nil {
		return nil, err
	}
	label, _ := cmd.Flags().GetString("label")

	refs, err := expandRefs(args)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.PipelineTask, 0, len(refs))
	for _, ref := range refs {
		tk := task.NewPipelineTask(ref, types...)
		tk.Priority = priority
		tk.SetMetadata(task.KeySubmitter, "cli")
		if label != "" {
			tk.SetMetadata(task.KeyBatchLabel, label)
		}
		tasks = append(tasks, tk)
	}
	return tasks, nil
}

// expandRefs expands glob patterns in local path arguments. URLs and
// plain paths pass through untouched; a pattern matching nothing is an
// error so a typo fails loudly instead of shrinking the batch.
func expandRefs(args []string) ([]string, error) {
	var refs []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") ||
			!strings.ContainsAny(arg, "*?[") {
			refs = append(refs, arg)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", arg)
		}
		refs = append(refs, matches...)
	}
	return refs, nil
}

// readTaskFile parses one task per JSONL line. Blank lines and # comments
// are skipped so hand-edited files stay valid.
func readTaskFile(path string) ([]*task.PipelineTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var tasks []*task.PipelineTask
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tk, err := task.FromJSON([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("task file line %d: %w", i+1, err)
		}
		tasks = append(tasks, tk)
	}
	return tasks, nil
}

func parsePriority(name string) (task.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low":
		return task.PriorityLow, nil
	case "", "normal":
		return task.PriorityNormal, nil
	case "high":
		return task.PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q (want low, normal, or high)", name)
	}
}

// registerExtractors builds one extractor per enabled provider and token
// category, wraps each in the resilience stack, and registers it with the
// orchestrator. The returned breakers feed the ops /breakers endpoint.
func registerExtractors(orch *orchestrate.Orchestrator, cfg *config.Config, secrets *config.SecretStore, recorder metrics.Recorder) ([]*circuit.Breaker, error) {
	breakerCfg := circuit.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	}

	var breakers []*circuit.Breaker
	for _, provider := range cfg.EnabledExtractors() {
		ec := cfg.Extractors[provider]

		apiKey := ""
		if keyName := config.APIKeyName(provider); keyName != "" {
			key, err := secrets.Get(keyName)
			if err != nil {
				return nil, fmt.Errorf("extractor %s: %w", provider, err)
			}
			apiKey = key
		}

		for _, typ := range token.AllTypes() {
			base, err := buildExtractor(provider, ec, apiKey, typ)
			if err != nil {
				return nil, err
			}
			b := circuit.New(fmt.Sprintf("%s/%s", base.Name(), typ), breakerCfg)
			breakers = append(breakers, b)

			wrapped := middleware.Resilient(base, b, "extraction", cfg.Timeouts.ExtractorCall,
				recorder, logx.NewLogger("extractor-"+base.Name()))
			if err := orch.Register(typ, wrapped); err != nil {
				return nil, err
			}
		}
	}
	return breakers, nil
}

func buildExtractor(provider string, ec config.ExtractorConfig, apiKey string, typ token.Type) (extract.Extractor, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.New(apiKey, ec.Model, typ), nil
	case config.ProviderOpenAI:
		return openai.New(apiKey, ec.Model, typ), nil
	case config.ProviderGoogle:
		return google.New(apiKey, ec.Model, typ), nil
	case config.ProviderOllama:
		return ollama.New(ec.Endpoint, ec.Model, typ)
	default:
		return nil, fmt.Errorf("unknown extractor provider %q", provider)
	}
}

func openStatusSink(cfg *config.Config, secrets *config.SecretStore) *status.RedisSink {
	password := cfg.Redis.Password
	if password == "" {
		if pw, err := secrets.Get(config.SecretRedisPassword); err == nil {
			password = pw
		}
	}

	opts := []status.Option{status.WithTTL(cfg.Redis.TTL)}
	if cfg.Redis.Prefix != "" {
		opts = append(opts, status.WithPrefix(cfg.Redis.Prefix))
	}
	return status.NewRedisSink(cfg.Redis.Addr, password, cfg.Redis.DB, opts...)
}

func breakerStats(breakers []*circuit.Breaker) func() []circuit.Stats {
	return func() []circuit.Stats {
		stats := make([]circuit.Stats, 0, len(breakers))
		for _, b := range breakers {
			stats = append(stats, b.GetStats())
		}
		return stats
	}
}
