package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// capacityGuard decides whether a kind may start loading given the bytes
// already reserved by other in-flight loads. It must not evict.
type capacityGuard func(kind Kind, estimate, pending uint64) error

// Registry owns one slot per configured kind and performs every transition.
type Registry struct {
	slots    map[Kind]*slot
	order    []Kind
	flights  singleflight.Group
	cooldown time.Duration
	now      func() time.Time
	log      zerolog.Logger
	pub      EventPublisher
	guard    capacityGuard

	// baseCtx is handed to loaders; canceled by Close so slow loads stop on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc

	pendingMu sync.Mutex
	pending   uint64

	loadsTotal     atomic.Uint64
	evictionsTotal atomic.Uint64
}

func newRegistry(specs []KindSpec, cooldown time.Duration, now func() time.Time, log zerolog.Logger, pub EventPublisher, guard capacityGuard) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		slots:    make(map[Kind]*slot, len(specs)),
		cooldown: cooldown,
		now:      now,
		log:      log,
		pub:      pub,
		guard:    guard,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, ks := range specs {
		r.slots[ks.Kind] = newSlot(ks)
		r.order = append(r.order, ks.Kind)
	}
	sort.SliceStable(r.order, func(i, j int) bool {
		pi, pj := r.slots[r.order[i]].spec.Priority, r.slots[r.order[j]].spec.Priority
		if pi != pj {
			return pi < pj
		}
		return r.order[i].String() < r.order[j].String()
	})
	return r
}

func (r *Registry) slot(kind Kind) (*slot, error) {
	s, ok := r.slots[kind]
	if !ok {
		return nil, UnknownKindError{Name: kind.String()}
	}
	return s, nil
}

// Kinds returns the configured kinds in priority order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Spec returns the configuration of kind.
func (r *Registry) Spec(kind Kind) (KindSpec, bool) {
	s, ok := r.slots[kind]
	if !ok {
		return KindSpec{}, false
	}
	return s.spec, true
}

// State returns the current state of kind ("" for unknown kinds).
func (r *Registry) State(kind Kind) State {
	s, ok := r.slots[kind]
	if !ok {
		return ""
	}
	return s.currentState()
}

// EnsureLoaded returns the handle for kind, loading it if needed. Concurrent
// callers for the same kind share one load. A caller whose ctx ends while the
// load is in flight gets a NotReadyError; the load continues for the others.
func (r *Registry) EnsureLoaded(ctx context.Context, kind Kind) (Handle, error) {
	s, err := r.slot(kind)
	if err != nil {
		return nil, err
	}
	if h, ok := s.loadedHandle(); ok {
		return h, nil
	}
	if err := s.coolingDown(r.now(), r.cooldown); err != nil {
		return nil, err
	}
	ch := r.flights.DoChan(kind.String(), func() (any, error) {
		return r.load(s)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val, nil
	case <-ctx.Done():
		return nil, &NotReadyError{Kind: kind, Err: ctx.Err()}
	}
}

// load runs inside a single flight. It holds the slot lock for the whole
// transition and re-checks state first since a previous flight, or an evict,
// may have changed it while this one was queued.
func (r *Registry) load(s *slot) (h Handle, err error) {
	kind := s.spec.Kind
	if err := s.acquire(r.baseCtx); err != nil {
		return nil, &NotReadyError{Kind: kind, Err: ErrShuttingDown}
	}
	defer s.release()

	if h, ok := s.loadedHandle(); ok {
		return h, nil
	}
	if err := s.coolingDown(r.now(), r.cooldown); err != nil {
		return nil, err
	}

	unreserve, err := r.reserve(kind, s.spec.EstimateBytes)
	if err != nil {
		r.log.Warn().Str("kind", kind.String()).Err(err).Msg("load refused")
		r.pub.Publish(Event{Name: "ensure_budget_fail", Kind: kind, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	defer unreserve()

	s.mu.Lock()
	s.state = StateLoading
	s.mu.Unlock()

	start := r.now()
	r.log.Info().Str("kind", kind.String()).Uint64("estimate_bytes", s.spec.EstimateBytes).Msg("load start")
	r.pub.Publish(Event{Name: "ensure_start", Kind: kind, Fields: map[string]any{}})

	h, err = callLoad(r.baseCtx, s.spec.Loader, kind)
	if err == nil && h == nil {
		err = errors.New("loader returned no handle")
	}

	now := r.now()
	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.handle = nil
		s.failedAt = now
		s.lastErr = err
		s.failures++
		s.consecutive++
		consecutive := s.consecutive
		s.mu.Unlock()
		retryAt := now.Add(r.cooldown)
		r.log.Error().Str("kind", kind.String()).Err(err).Int("consecutive_failures", consecutive).Time("retry_at", retryAt).Msg("load failed")
		r.pub.Publish(Event{Name: "load_failed", Kind: kind, Fields: map[string]any{"error": err.Error(), "consecutive": consecutive}})
		return nil, &LoadFailureError{Kind: kind, Err: err, RetryAt: retryAt}
	}
	s.state = StateLoaded
	s.handle = h
	s.loadedAt = now
	s.lastUsedAt = now
	s.lastErr = nil
	s.consecutive = 0
	s.loads++
	s.mu.Unlock()
	r.loadsTotal.Add(1)

	dur := now.Sub(start)
	r.log.Info().Str("kind", kind.String()).Dur("dur", dur).Msg("load done")
	r.pub.Publish(Event{Name: "ensure_ready", Kind: kind, Fields: map[string]any{"dur_ms": int(dur / time.Millisecond)}})
	return h, nil
}

// callLoad shields the registry from loader panics.
func callLoad(ctx context.Context, l ModelLoader, kind Kind) (h Handle, err error) {
	defer func() {
		if p := recover(); p != nil {
			h, err = nil, fmt.Errorf("loader panic: %v", p)
		}
	}()
	return l.Load(ctx, kind)
}

func callUnload(l ModelLoader, kind Kind, h Handle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unload panic: %v", p)
		}
	}()
	return l.Unload(kind, h)
}

// reserve runs the capacity guard and books estimate bytes for an in-flight
// load, so concurrent loads of different kinds cannot jointly overrun the budget.
func (r *Registry) reserve(kind Kind, estimate uint64) (func(), error) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if r.guard != nil {
		if err := r.guard(kind, estimate, r.pending); err != nil {
			return nil, err
		}
	}
	r.pending += estimate
	var once sync.Once
	return func() {
		once.Do(func() {
			r.pendingMu.Lock()
			r.pending -= estimate
			r.pendingMu.Unlock()
		})
	}, nil
}

// PendingBytes is the sum of estimates of loads currently in flight.
func (r *Registry) PendingBytes() uint64 {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return r.pending
}

// Acquire ensures kind is loaded and pins it for the duration of one inference.
// The returned release func must be called exactly once; extra calls are no-ops.
func (r *Registry) Acquire(ctx context.Context, kind Kind) (Handle, func(), error) {
	s, err := r.slot(kind)
	if err != nil {
		return nil, nil, err
	}
	const attempts = 3
	for i := 0; i < attempts; i++ {
		if _, err := r.EnsureLoaded(ctx, kind); err != nil {
			return nil, nil, err
		}
		// An evict may slip in between EnsureLoaded and pin; try again.
		if h, ok := s.pin(); ok {
			var once sync.Once
			return h, func() { once.Do(s.unpin) }, nil
		}
	}
	return nil, nil, &NotReadyError{Kind: kind, Err: errors.New("evicted while acquiring")}
}

// Touch records a successful use of kind for LRU decisions.
func (r *Registry) Touch(kind Kind) {
	if s, ok := r.slots[kind]; ok {
		s.touch(r.now())
	}
}

// Evict unloads kind. It fails with ErrNotLoaded unless the slot is loaded,
// and with ErrSlotBusy while requests hold the engine.
func (r *Registry) Evict(ctx context.Context, kind Kind) error {
	s, err := r.slot(kind)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	if s.state != StateLoaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.inflight > 0 {
		s.mu.Unlock()
		return ErrSlotBusy
	}
	h := s.handle
	lastUsed := s.lastUsedAt
	s.handle = nil
	s.state = StateUnloaded
	s.evictions++
	s.mu.Unlock()
	r.evictionsTotal.Add(1)

	err = callUnload(s.spec.Loader, kind, h)
	ev := r.log.Info()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	ev.Str("kind", kind.String()).Time("last_used", lastUsed).Uint64("estimate_bytes", s.spec.EstimateBytes).Msg("evicted")
	r.pub.Publish(Event{Name: "evict", Kind: kind, Fields: map[string]any{"last_used": lastUsed}})
	if err != nil {
		return fmt.Errorf("unload %s: %w", kind, err)
	}
	return nil
}

// Snapshot returns a copy of every slot in priority order.
func (r *Registry) Snapshot() []SlotStatus {
	out := make([]SlotStatus, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.slots[k].status())
	}
	return out
}

// LoadedBytes sums the estimates of loaded kinds.
func (r *Registry) LoadedBytes() uint64 {
	var total uint64
	for _, s := range r.slots {
		s.mu.RLock()
		if s.state == StateLoaded {
			total += s.spec.EstimateBytes
		}
		s.mu.RUnlock()
	}
	return total
}

// Close cancels in-flight loads and unloads every engine, waiting for pinned
// engines to drain until ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.cancel()
	var errs []error
	for _, k := range r.order {
		for {
			err := r.Evict(ctx, k)
			if errors.Is(err, ErrSlotBusy) {
				select {
				case <-time.After(10 * time.Millisecond):
					continue
				case <-ctx.Done():
					r.pub.Publish(Event{Name: "unload_timeout", Kind: k, Fields: map[string]any{}})
					errs = append(errs, fmt.Errorf("evict %s: %w", k, ctx.Err()))
				}
			} else if err != nil && !errors.Is(err, ErrNotLoaded) {
				errs = append(errs, err)
			}
			break
		}
	}
	return errors.Join(errs...)
}
