package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"analyzerd/internal/cache"
	"analyzerd/internal/memory"
)

// Manager coordinates analysis requests, engine lifecycles and the result cache.
type Manager struct {
	cfg      Config
	log      zerolog.Logger
	pub      EventPublisher
	now      func() time.Time
	registry *Registry
	cache    *cache.Cache[Result]
	monitor  *memory.Monitor
	loader   *BackgroundLoader

	// roomMu serializes eviction so concurrent misses do not evict in parallel.
	roomMu sync.Mutex

	requests       atomic.Uint64
	checking       atomic.Bool
	closing        atomic.Bool
	pressurePaused atomic.Bool
	startTime      time.Time

	runMu   sync.Mutex
	started bool
	runCtx  context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg, applies defaults and builds a Manager. No engine is
// loaded until Start or the first Analyze.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "manager").Logger(),
		pub:       cfg.Publisher,
		now:       cfg.Clock,
		startTime: cfg.Clock(),
	}
	m.runCtx, m.stop = context.WithCancel(context.Background())
	m.registry = newRegistry(cfg.Kinds, cfg.FailedRetryCooldown, cfg.Clock, m.log, m.pub, m.guardCapacity)

	q := cfg.Memory
	if q == nil {
		q = memory.QueryFunc(func() (uint64, error) { return m.registry.LoadedBytes(), nil })
	}
	m.monitor = memory.NewMonitor(q, cfg.MemoryLimitBytes)

	ttl := cfg.CacheTTL
	if ttl < 0 {
		ttl = 0
	}
	m.cache = cache.New[Result](cfg.CacheMaxEntries, ttl, cache.WithClock(cfg.Clock))
	m.loader = newBackgroundLoader(m.registry, m.fitsWithoutEviction, cfg.Loader, cfg.LoadTimeout,
		cfg.Logger.With().Str("component", "loader").Logger(), m.pub)
	return m, nil
}

// Start launches the background loader and the periodic memory check. It
// returns immediately; calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.started || m.closing.Load() {
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(ctx)
	stopIdle := m.stop
	m.runCtx = ctx
	m.stop = func() {
		cancel()
		stopIdle()
	}
	if !m.cfg.Loader.Disabled {
		m.loader.Start(ctx)
	}
	if m.cfg.MemoryCheckInterval > 0 {
		m.wg.Add(1)
		go m.memoryLoop(ctx)
	}
	m.log.Info().
		Int("kinds", len(m.cfg.Kinds)).
		Uint64("limit_bytes", m.cfg.MemoryLimitBytes).
		Str("memory_source", m.cfg.MemorySource).
		Bool("background_loader", !m.cfg.Loader.Disabled).
		Msg("manager started")
}

func (m *Manager) memoryLoop(ctx context.Context) {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.MemoryCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.runPressureCheck(ctx)
		}
	}
}

// runPressureCheck runs checkPressure unless one is already in progress.
func (m *Manager) runPressureCheck(ctx context.Context) {
	if !m.checking.CompareAndSwap(false, true) {
		return
	}
	defer m.checking.Store(false)
	m.checkPressure(ctx)
}

// goPressureCheck runs a pressure check in the background on the manager's
// run context. Shutdown waits for it; none starts once closing is set.
func (m *Manager) goPressureCheck() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.closing.Load() {
		return
	}
	ctx := m.runCtx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runPressureCheck(ctx)
	}()
}

// Shutdown stops background work and unloads every engine. Engines still in
// use are waited for until ctx is done. Later Analyze calls fail with
// ErrShuttingDown.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}
	m.log.Info().Msg("manager shutting down")
	m.loader.Stop()
	m.runMu.Lock()
	m.stop()
	m.runMu.Unlock()
	m.wg.Wait()
	err := m.registry.Close(ctx)
	m.pub.Publish(Event{Name: "shutdown", Fields: map[string]any{}})
	if err != nil {
		m.log.Warn().Err(err).Msg("shutdown incomplete")
		return err
	}
	m.log.Info().Msg("manager stopped")
	return nil
}

// Ready reports whether at least one kind is loaded and the manager accepts work.
func (m *Manager) Ready() bool {
	if m.closing.Load() {
		return false
	}
	for _, st := range m.registry.Snapshot() {
		if st.State == StateLoaded {
			return true
		}
	}
	return false
}

// Kinds returns the configured kinds in priority order.
func (m *Manager) Kinds() []Kind { return m.registry.Kinds() }

// Spec returns the configuration of a kind.
func (m *Manager) Spec(kind Kind) (KindSpec, bool) { return m.registry.Spec(kind) }

// Registry exposes the slot registry for callers that need direct lifecycle control.
func (m *Manager) Registry() *Registry { return m.registry }

// ClearCache drops every cached result.
func (m *Manager) ClearCache() {
	n := m.cache.Len()
	m.cache.Clear()
	m.log.Info().Int("entries", n).Msg("result cache cleared")
	m.pub.Publish(Event{Name: "cache_cleared", Fields: map[string]any{"entries": n}})
}

// PauseLoader halts background warming until ResumeLoader.
func (m *Manager) PauseLoader() {
	m.pressurePaused.Store(false)
	m.loader.Pause()
}

// ResumeLoader continues background warming.
func (m *Manager) ResumeLoader() {
	m.pressurePaused.Store(false)
	m.loader.Resume()
}

// Evict unloads kind immediately. It fails with ErrNotLoaded when the kind
// holds no engine and ErrSlotBusy while requests use it.
func (m *Manager) Evict(ctx context.Context, kind Kind) error {
	if m.closing.Load() {
		return ErrShuttingDown
	}
	if _, ok := m.registry.Spec(kind); !ok {
		return UnknownKindError{Name: kind.String()}
	}
	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	return m.registry.Evict(ctx, kind)
}
