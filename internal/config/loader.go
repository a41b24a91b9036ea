package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"analyzerd/internal/manager"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// MemoryLimitMB is the hard budget; -1 means unlimited.
	MemoryLimitMB int `json:"memory_limit_mb" yaml:"memory_limit_mb" toml:"memory_limit_mb"`
	// MemorySource is one of rss, runtime, estimate, gpu.
	MemorySource               string `json:"memory_source" yaml:"memory_source" toml:"memory_source"`
	GPUIndex                   int    `json:"gpu_index" yaml:"gpu_index" toml:"gpu_index"`
	MemoryCheckIntervalSeconds int    `json:"memory_check_interval_seconds" yaml:"memory_check_interval_seconds" toml:"memory_check_interval_seconds"`
	EvictCheckEvery            int    `json:"evict_check_every" yaml:"evict_check_every" toml:"evict_check_every"`
	CacheMaxEntries            int    `json:"cache_max_entries" yaml:"cache_max_entries" toml:"cache_max_entries"`
	// CacheTTLSeconds -1 disables expiry.
	CacheTTLSeconds            int `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	FailedRetryCooldownSeconds int `json:"failed_retry_cooldown_seconds" yaml:"failed_retry_cooldown_seconds" toml:"failed_retry_cooldown_seconds"`
	LoadTimeoutSeconds         int `json:"load_timeout_seconds" yaml:"load_timeout_seconds" toml:"load_timeout_seconds"`

	// Engine is lexicon or llama.
	Engine       string `json:"engine" yaml:"engine" toml:"engine"`
	LlamaCtx     int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`

	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	Background Background `json:"background" yaml:"background" toml:"background"`
	Kinds      []Kind     `json:"kinds" yaml:"kinds" toml:"kinds"`
}

// Background configures the warming worker.
type Background struct {
	// Enabled defaults to true when omitted.
	Enabled       *bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	IntervalMS    int   `json:"interval_ms" yaml:"interval_ms" toml:"interval_ms"`
	RescanSeconds int   `json:"rescan_seconds" yaml:"rescan_seconds" toml:"rescan_seconds"`
}

// Kind configures one analysis kind.
type Kind struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Priority defaults to the kind's built-in rank when omitted.
	Priority *int `json:"priority" yaml:"priority" toml:"priority"`
	// MemoryEstimateMB defaults to the model file size when zero.
	MemoryEstimateMB int    `json:"memory_estimate_mb" yaml:"memory_estimate_mb" toml:"memory_estimate_mb"`
	ModelPath        string `json:"model_path" yaml:"model_path" toml:"model_path"`
}

// Defaults used by ApplyDefaults.
const (
	DefaultAddr            = ":8080"
	DefaultModelsDir       = "~/models/analyzer"
	DefaultMemoryLimitMB   = 10240
	DefaultMemorySource    = "rss"
	DefaultEngine          = "lexicon"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultCacheMaxEntries = 1000
	DefaultCacheTTLSeconds = 3600
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	setStr := func(p *string, def string) {
		if strings.TrimSpace(*p) == "" {
			*p = def
		}
	}
	setInt := func(p *int, def int) {
		if *p == 0 {
			*p = def
		}
	}
	setStr(&c.Addr, DefaultAddr)
	setStr(&c.ModelsDir, DefaultModelsDir)
	setStr(&c.MemorySource, DefaultMemorySource)
	setStr(&c.Engine, DefaultEngine)
	setStr(&c.LogLevel, DefaultLogLevel)
	setStr(&c.LogFormat, DefaultLogFormat)
	setInt(&c.MemoryLimitMB, DefaultMemoryLimitMB)
	setInt(&c.MemoryCheckIntervalSeconds, 30)
	setInt(&c.EvictCheckEvery, 100)
	setInt(&c.CacheMaxEntries, DefaultCacheMaxEntries)
	setInt(&c.CacheTTLSeconds, DefaultCacheTTLSeconds)
	setInt(&c.FailedRetryCooldownSeconds, 30)
	setInt(&c.LoadTimeoutSeconds, 60)
	setInt(&c.LlamaCtx, 512)
	setInt(&c.LlamaThreads, 4)
	setInt(&c.Background.IntervalMS, 250)
	setInt(&c.Background.RescanSeconds, 30)
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Background.Enabled == nil {
		on := true
		c.Background.Enabled = &on
	}
	if len(c.Kinds) == 0 {
		for _, k := range manager.AllKinds() {
			c.Kinds = append(c.Kinds, Kind{Name: k.String()})
		}
	}
}

// Validate rejects values that ApplyDefaults cannot repair.
func (c Config) Validate() error {
	switch c.Engine {
	case "lexicon", "llama":
	default:
		return fmt.Errorf("engine: unsupported %q (want lexicon or llama)", c.Engine)
	}
	switch c.MemorySource {
	case "rss", "runtime", "estimate", "gpu":
	default:
		return fmt.Errorf("memory_source: unsupported %q", c.MemorySource)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported %q", c.LogFormat)
	}
	if c.MemoryLimitMB < -1 {
		return fmt.Errorf("memory_limit_mb: %d (use -1 for unlimited)", c.MemoryLimitMB)
	}
	for name, v := range map[string]int{
		"cache_max_entries":             c.CacheMaxEntries,
		"failed_retry_cooldown_seconds": c.FailedRetryCooldownSeconds,
		"load_timeout_seconds":          c.LoadTimeoutSeconds,
		"llama_ctx":                     c.LlamaCtx,
		"llama_threads":                 c.LlamaThreads,
		"background.interval_ms":        c.Background.IntervalMS,
		"background.rescan_seconds":     c.Background.RescanSeconds,
		"gpu_index":                     c.GPUIndex,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative")
	}
	if c.CacheTTLSeconds < -1 {
		return fmt.Errorf("cache_ttl_seconds: %d (use -1 to disable expiry)", c.CacheTTLSeconds)
	}
	seen := map[manager.Kind]bool{}
	for _, k := range c.Kinds {
		kind, err := manager.ParseKind(k.Name)
		if err != nil {
			return fmt.Errorf("kinds: %w", err)
		}
		if seen[kind] {
			return fmt.Errorf("kinds: %s configured twice", kind)
		}
		seen[kind] = true
		if k.MemoryEstimateMB < 0 {
			return fmt.Errorf("kinds: %s memory_estimate_mb must not be negative", kind)
		}
	}
	return nil
}

// MemoryLimitBytes converts the budget; 0 means unlimited.
func (c Config) MemoryLimitBytes() uint64 {
	if c.MemoryLimitMB <= 0 {
		return 0
	}
	return uint64(c.MemoryLimitMB) << 20
}

// CacheTTL converts cache_ttl_seconds; negative disables expiry.
func (c Config) CacheTTL() time.Duration {
	if c.CacheTTLSeconds < 0 {
		return -1
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ManagerConfig maps the file settings onto manager.Config. Kinds, memory
// source, logger and publisher are wired by the caller.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		MemoryLimitBytes:    c.MemoryLimitBytes(),
		MemorySource:        c.MemorySource,
		CacheMaxEntries:     c.CacheMaxEntries,
		CacheTTL:            c.CacheTTL(),
		FailedRetryCooldown: seconds(c.FailedRetryCooldownSeconds),
		LoadTimeout:         seconds(c.LoadTimeoutSeconds),
		MemoryCheckInterval: seconds(c.MemoryCheckIntervalSeconds),
		EvictCheckEvery:     c.EvictCheckEvery,
		Loader: manager.LoaderConfig{
			Disabled:       c.Background.Enabled != nil && !*c.Background.Enabled,
			Interval:       time.Duration(c.Background.IntervalMS) * time.Millisecond,
			RescanInterval: seconds(c.Background.RescanSeconds),
		},
	}
}
