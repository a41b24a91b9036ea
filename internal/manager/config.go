package manager

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"analyzerd/internal/memory"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultCacheMaxEntries     = 1000
	defaultCacheTTL            = time.Hour
	defaultFailedRetryCooldown = 30 * time.Second
	defaultLoadTimeout         = 60 * time.Second
	defaultMemoryCheckInterval = 30 * time.Second
	defaultEvictCheckEvery     = 100
	defaultLoaderInterval      = 250 * time.Millisecond
	defaultLoaderRescan        = 30 * time.Second
	defaultMaxParallel         = 4
)

// LoaderConfig tunes the background warming worker.
type LoaderConfig struct {
	Disabled bool
	// Interval is the pause between two kinds within a pass.
	Interval time.Duration
	// RescanInterval is the idle time between passes.
	RescanInterval time.Duration
}

// Config encapsulates all tunables for Manager construction. Zero values mean
// "use the default"; negative durations/counts disable the feature where noted.
type Config struct {
	Kinds []KindSpec
	// MemoryLimitBytes is the hard budget; 0 means unlimited.
	MemoryLimitBytes uint64
	// Memory is the usage source. Nil sums the estimates of loaded kinds.
	Memory memory.Query
	// MemorySource labels Memory in stats (rss, runtime, gpu, estimate).
	MemorySource string

	CacheMaxEntries int
	// CacheTTL < 0 disables expiry.
	CacheTTL time.Duration

	FailedRetryCooldown time.Duration
	// LoadTimeout bounds how long a request waits for its engine to load.
	LoadTimeout time.Duration
	// MemoryCheckInterval < 0 disables the periodic pressure check.
	MemoryCheckInterval time.Duration
	// EvictCheckEvery runs a pressure check every N Analyze calls; < 0 disables.
	EvictCheckEvery int
	// MaxParallel caps concurrent kinds inside one Analyze call.
	MaxParallel int

	Loader LoaderConfig

	Logger    *zerolog.Logger
	Publisher EventPublisher
	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// withDefaults returns a copy of cfg with unset fields filled in.
func (cfg Config) withDefaults() Config {
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = defaultCacheMaxEntries
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.FailedRetryCooldown <= 0 {
		cfg.FailedRetryCooldown = defaultFailedRetryCooldown
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.MemoryCheckInterval == 0 {
		cfg.MemoryCheckInterval = defaultMemoryCheckInterval
	}
	if cfg.EvictCheckEvery == 0 {
		cfg.EvictCheckEvery = defaultEvictCheckEvery
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	if cfg.Loader.Interval <= 0 {
		cfg.Loader.Interval = defaultLoaderInterval
	}
	if cfg.Loader.RescanInterval <= 0 {
		cfg.Loader.RescanInterval = defaultLoaderRescan
	}
	if cfg.Logger == nil {
		l := zerolog.Nop()
		cfg.Logger = &l
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MemorySource == "" {
		if cfg.Memory == nil {
			cfg.MemorySource = memory.SourceEstimate
		} else {
			cfg.MemorySource = "custom"
		}
	}
	return cfg
}

// validate checks kind specs before any slot is created.
func (cfg Config) validate() error {
	if len(cfg.Kinds) == 0 {
		return fmt.Errorf("no kinds configured")
	}
	seen := make(map[Kind]bool, len(cfg.Kinds))
	for _, ks := range cfg.Kinds {
		if !ks.Kind.Valid() {
			return UnknownKindError{Name: ks.Kind.String()}
		}
		if seen[ks.Kind] {
			return fmt.Errorf("kind %s configured twice", ks.Kind)
		}
		seen[ks.Kind] = true
		if ks.Loader == nil || ks.Engine == nil {
			return fmt.Errorf("kind %s: loader and engine are required", ks.Kind)
		}
	}
	return nil
}
