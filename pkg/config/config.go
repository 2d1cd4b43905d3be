// Package config loads and validates the pipeline configuration from a
// YAML file. There is no global config instance: Load returns a *Config
// and callers pass it (or the relevant sub-struct) to the components
// that need it.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tokenforge/pkg/token"
)

// Provider names accepted in extractor settings.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// PoolConfig sizes the per-stage worker pools.
type PoolConfig struct {
	Preprocess int `yaml:"preprocess"` // Concurrent image loads (default: 4)
	Extract    int `yaml:"extract"`    // Concurrent extractor calls across the batch (default: 8)
	Aggregate  int `yaml:"aggregate"`  // Concurrent aggregation units (default: 4)
	Validate   int `yaml:"validate"`   // Concurrent validation units (default: 4)
	Generate   int `yaml:"generate"`   // Concurrent generation units (default: 2)
}

// BreakerConfig tunes the per-extractor circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // Consecutive failures before opening (default: 5)
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`  // Wait before admitting a trial call (default: 30s)
}

// TimeoutConfig bounds individual pipeline operations.
type TimeoutConfig struct {
	ExtractorCall time.Duration `yaml:"extractor_call"` // Per-call deadline for one extractor (default: 45s)
	Stage         time.Duration `yaml:"stage"`          // Per-image deadline for each non-extraction stage (default: 60s)
}

// ExtractorConfig configures one provider-backed extractor.
type ExtractorConfig struct {
	Enabled  bool   `yaml:"enabled"`            // Whether this extractor participates in runs
	Model    string `yaml:"model,omitempty"`    // Provider model name (defaults per provider)
	Endpoint string `yaml:"endpoint,omitempty"` // Base URL override (required for ollama)
}

// DedupConfig sets perceptual merge thresholds per token category.
// Zero or missing entries use the deduplicator default.
type DedupConfig struct {
	Thresholds map[string]float64 `yaml:"thresholds,omitempty"`
}

// RedisConfig configures the optional live-status sink.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`               // host:port (default: localhost:6379)
	Password string        `yaml:"password,omitempty"` // Prefer the secrets file; this is a dev convenience
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix,omitempty"` // Key prefix override
	TTL      time.Duration `yaml:"ttl"`              // Status record lifetime (default: 24h)
}

// StoreConfig points at the on-disk artifacts of a run.
type StoreConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`  // Results database; empty disables persistence
	EventLogDir string `yaml:"eventlog_dir"` // JSONL event directory (default: logs)
	OutputDir   string `yaml:"output_dir"`   // Generated token files (default: out)
}

// OpsConfig configures the operational HTTP listener.
type OpsConfig struct {
	Addr          string `yaml:"addr,omitempty"`           // Listen address; empty disables the server
	PrometheusURL string `yaml:"prometheus_url,omitempty"` // Query endpoint for the stats command
}

// Config is the root configuration for a tokenforge process.
type Config struct {
	Pools      PoolConfig                 `yaml:"pools"`
	Breaker    BreakerConfig              `yaml:"breaker"`
	Timeouts   TimeoutConfig              `yaml:"timeouts"`
	Extractors map[string]ExtractorConfig `yaml:"extractors"`
	Dedup      DedupConfig                `yaml:"dedup"`
	Redis      RedisConfig                `yaml:"redis"`
	Store      StoreConfig                `yaml:"store"`
	Ops        OpsConfig                  `yaml:"ops"`
}

// Default returns a Config with every field at its default value. A batch
// can run on defaults alone as long as at least one extractor is enabled
// programmatically or via file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, applies defaults to unset fields, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Pools.Preprocess <= 0 {
		c.Pools.Preprocess = 4
	}
	if c.Pools.Extract <= 0 {
		c.Pools.Extract = 8
	}
	if c.Pools.Aggregate <= 0 {
		c.Pools.Aggregate = 4
	}
	if c.Pools.Validate <= 0 {
		c.Pools.Validate = 4
	}
	if c.Pools.Generate <= 0 {
		c.Pools.Generate = 2
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		c.Breaker.RecoveryTimeout = 30 * time.Second
	}

	if c.Timeouts.ExtractorCall <= 0 {
		c.Timeouts.ExtractorCall = 45 * time.Second
	}
	if c.Timeouts.Stage <= 0 {
		c.Timeouts.Stage = 60 * time.Second
	}

	if c.Extractors == nil {
		c.Extractors = map[string]ExtractorConfig{}
	}
	for name, ec := range c.Extractors {
		if ec.Model == "" {
			ec.Model = defaultModel(name)
			c.Extractors[name] = ec
		}
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 24 * time.Hour
	}

	if c.Store.EventLogDir == "" {
		c.Store.EventLogDir = "logs"
	}
	if c.Store.OutputDir == "" {
		c.Store.OutputDir = "out"
	}
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderOpenAI:
		return "gpt-4o"
	case ProviderGoogle:
		return "gemini-2.0-flash"
	case ProviderOllama:
		return "llava"
	default:
		return ""
	}
}

// Validate checks field ranges and cross-field consistency.
func (c *Config) Validate() error {
	pools := map[string]int{
		"preprocess": c.Pools.Preprocess,
		"extract":    c.Pools.Extract,
		"aggregate":  c.Pools.Aggregate,
		"validate":   c.Pools.Validate,
		"generate":   c.Pools.Generate,
	}
	for name, n := range pools {
		if n < 1 || n > 256 {
			return fmt.Errorf("pools.%s must be between 1 and 256, got %d", name, n)
		}
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoveryTimeout < time.Second {
		return fmt.Errorf("breaker.recovery_timeout must be at least 1s, got %v", c.Breaker.RecoveryTimeout)
	}

	for name, ec := range c.Extractors {
		switch name {
		case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
		default:
			return fmt.Errorf("unknown extractor provider %q", name)
		}
		if ec.Enabled && name == ProviderOllama && ec.Endpoint == "" {
			return fmt.Errorf("extractors.ollama requires an endpoint when enabled")
		}
	}

	for cat, threshold := range c.Dedup.Thresholds {
		if _, err := token.ParseType(cat); err != nil {
			return fmt.Errorf("dedup.thresholds: %w", err)
		}
		if threshold <= 0 || threshold > 100 {
			return fmt.Errorf("dedup.thresholds.%s must be in (0, 100], got %g", cat, threshold)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative, got %d", c.Redis.DB)
	}

	return nil
}

// EnabledExtractors returns the provider names with Enabled set, in a
// fixed provider order so registration order is deterministic.
func (c *Config) EnabledExtractors() []string {
	order := []string{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama}
	var enabled []string
	for _, name := range order {
		if ec, ok := c.Extractors[name]; ok && ec.Enabled {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// DedupThresholds converts the configured per-category thresholds to
// token types. Types were validated by Validate.
func (c *Config) DedupThresholds() map[token.Type]float64 {
	out := make(map[token.Type]float64, len(c.Dedup.Thresholds))
	for cat, threshold := range c.Dedup.Thresholds {
		typ, err := token.ParseType(cat)
		if err != nil {
			continue
		}
		out[typ] = threshold
	}
	return out
}
