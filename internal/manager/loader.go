package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BackgroundLoader warms kinds in priority order outside the request path.
// It only loads kinds that fit the budget as-is; it never evicts.
type BackgroundLoader struct {
	reg         *Registry
	fits        func(Kind) bool
	interval    time.Duration
	rescan      time.Duration
	loadTimeout time.Duration
	log         zerolog.Logger
	pub         EventPublisher

	mu      sync.Mutex
	running bool
	paused  bool
	current Kind
	cancel  context.CancelFunc
	done    chan struct{}
	kick    chan struct{}
}

func newBackgroundLoader(reg *Registry, fits func(Kind) bool, cfg LoaderConfig, loadTimeout time.Duration, log zerolog.Logger, pub EventPublisher) *BackgroundLoader {
	return &BackgroundLoader{
		reg:         reg,
		fits:        fits,
		interval:    cfg.Interval,
		rescan:      cfg.RescanInterval,
		loadTimeout: loadTimeout,
		log:         log,
		pub:         pub,
		kick:        make(chan struct{}, 1),
	}
}

// Start launches the worker. Calling Start on a running loader is a no-op.
func (l *BackgroundLoader) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	go l.run(ctx, l.done)
}

// Stop cancels the worker and waits for it to exit. A load already handed to
// the registry keeps running there.
func (l *BackgroundLoader) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.mu.Unlock()
	cancel()
	<-done
}

// Pause halts warming before the next kind.
func (l *BackgroundLoader) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	l.pub.Publish(Event{Name: "loader_paused", Fields: map[string]any{}})
}

// Resume continues warming and starts a new pass right away.
func (l *BackgroundLoader) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.Wake()
	l.pub.Publish(Event{Name: "loader_resumed", Fields: map[string]any{}})
}

// Wake cuts the idle wait between passes short.
func (l *BackgroundLoader) Wake() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// IsActive reports whether the worker is running and not paused.
func (l *BackgroundLoader) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running && !l.paused
}

func (l *BackgroundLoader) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

func (l *BackgroundLoader) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Current returns the kind being loaded right now, or 0.
func (l *BackgroundLoader) Current() Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *BackgroundLoader) setCurrent(k Kind) {
	l.mu.Lock()
	l.current = k
	l.mu.Unlock()
}

func (l *BackgroundLoader) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	l.log.Info().Msg("background loader started")
	defer l.log.Info().Msg("background loader stopped")
	for {
		for _, k := range l.reg.Kinds() {
			if !l.waitWhilePaused(ctx) {
				return
			}
			if !l.warm(ctx, k) {
				continue
			}
			if !sleepCtx(ctx, l.interval) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.rescan):
		case <-l.kick:
		}
	}
}

// warm loads one kind if it is still cold. It reports whether a load was attempted.
func (l *BackgroundLoader) warm(ctx context.Context, k Kind) bool {
	switch l.reg.State(k) {
	case StateLoaded, StateLoading, StateFailed:
		return false
	}
	if !l.fits(k) {
		l.log.Debug().Str("kind", k.String()).Msg("background load skipped: does not fit budget")
		return false
	}
	l.setCurrent(k)
	defer l.setCurrent(0)
	lctx, cancel := context.WithTimeout(ctx, l.loadTimeout)
	defer cancel()
	if _, err := l.reg.EnsureLoaded(lctx, k); err != nil {
		l.log.Warn().Str("kind", k.String()).Err(err).Msg("background load failed")
		return true
	}
	l.log.Info().Str("kind", k.String()).Msg("background load done")
	return true
}

// waitWhilePaused blocks until resumed; false means ctx ended.
func (l *BackgroundLoader) waitWhilePaused(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		if !l.IsPaused() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-l.kick:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
