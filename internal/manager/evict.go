package manager

import (
	"context"
	"errors"
	"sort"
)

// SelectEvictionCandidates picks which loaded kinds to evict under pressure:
// the oldest half by last use (at least one), ties broken by kind name.
// It is pure; callers pass only slots that are loaded and idle.
func SelectEvictionCandidates(loaded []SlotStatus) []Kind {
	if len(loaded) == 0 {
		return nil
	}
	sorted := make([]SlotStatus, len(loaded))
	copy(sorted, loaded)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].LastUsedAt.Equal(sorted[j].LastUsedAt) {
			return sorted[i].LastUsedAt.Before(sorted[j].LastUsedAt)
		}
		return sorted[i].Kind.String() < sorted[j].Kind.String()
	})
	n := len(sorted) / 2
	if n < 1 {
		n = 1
	}
	out := make([]Kind, 0, n)
	for _, st := range sorted[:n] {
		out = append(out, st.Kind)
	}
	return out
}

// evictable returns loaded slots without in-flight requests, excluding skip.
func (m *Manager) evictable(skip Kind) []SlotStatus {
	var out []SlotStatus
	for _, st := range m.registry.Snapshot() {
		if st.State == StateLoaded && st.Inflight == 0 && st.Kind != skip {
			out = append(out, st)
		}
	}
	return out
}

// evictRound runs the policy once and returns how many kinds were released.
func (m *Manager) evictRound(ctx context.Context, skip Kind, reason string) int {
	victims := SelectEvictionCandidates(m.evictable(skip))
	n := 0
	for _, k := range victims {
		err := m.registry.Evict(ctx, k)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrNotLoaded), errors.Is(err, ErrSlotBusy):
			// raced with another transition or a new request; skip
		default:
			// The slot is already unloaded when Unload itself fails.
			n++
			m.log.Warn().Str("kind", k.String()).Err(err).Msg("evict unload error")
		}
	}
	if len(victims) > 0 {
		m.log.Info().Str("reason", reason).Int("candidates", len(victims)).Int("evicted", n).Msg("eviction round")
	}
	return n
}

// makeRoom evicts until kind's estimate fits next to current usage and other
// in-flight loads. It never lets a load proceed over the budget.
func (m *Manager) makeRoom(ctx context.Context, kind Kind) error {
	if m.monitor.Unlimited() {
		return nil
	}
	if m.admitted(kind) {
		return nil
	}
	spec, _ := m.registry.Spec(kind)
	limit := m.monitor.Limit()
	if spec.EstimateBytes > limit {
		usage, _ := m.monitor.CurrentUsageBytes()
		return &CapacityExceededError{Kind: kind, NeedBytes: spec.EstimateBytes, UsageBytes: usage, LimitBytes: limit}
	}

	m.roomMu.Lock()
	defer m.roomMu.Unlock()
	for {
		if m.admitted(kind) {
			return nil
		}
		fits, usage, err := m.monitor.Fits(spec.EstimateBytes + m.registry.PendingBytes())
		if err != nil {
			return err
		}
		if fits {
			return nil
		}
		if m.evictRound(ctx, kind, "admit:"+kind.String()) == 0 {
			m.pub.Publish(Event{Name: "capacity_exceeded", Kind: kind, Fields: map[string]any{"usage": usage, "limit": limit}})
			return &CapacityExceededError{Kind: kind, NeedBytes: spec.EstimateBytes, UsageBytes: usage, LimitBytes: limit}
		}
	}
}

// admitted reports whether kind needs no room: it is loaded, or its load is
// in flight and already holds a reservation in PendingBytes.
func (m *Manager) admitted(kind Kind) bool {
	switch m.registry.State(kind) {
	case StateLoaded, StateLoading:
		return true
	}
	return false
}

// guardCapacity is the registry's last check before a load starts. Unlike
// makeRoom it never evicts; the background loader relies on that.
func (m *Manager) guardCapacity(kind Kind, estimate, pending uint64) error {
	if m.monitor.Unlimited() {
		return nil
	}
	fits, usage, err := m.monitor.Fits(estimate + pending)
	if err != nil {
		return err
	}
	if !fits {
		return &CapacityExceededError{Kind: kind, NeedBytes: estimate, UsageBytes: usage, LimitBytes: m.monitor.Limit()}
	}
	return nil
}

// fitsWithoutEviction is used by the background loader to skip kinds that
// would need eviction.
func (m *Manager) fitsWithoutEviction(kind Kind) bool {
	spec, ok := m.registry.Spec(kind)
	if !ok {
		return false
	}
	return m.guardCapacity(kind, spec.EstimateBytes, m.registry.PendingBytes()) == nil
}

// checkPressure evicts one policy round when over budget, pauses background
// warming while pressure persists, and resumes it once usage recovers.
func (m *Manager) checkPressure(ctx context.Context) {
	m.cache.Prune()
	if m.monitor.Unlimited() {
		return
	}
	over, usage, err := m.monitor.OverBudget()
	if err != nil {
		m.log.Warn().Err(err).Msg("memory check failed")
		return
	}
	if !over {
		if m.pressurePaused.CompareAndSwap(true, false) {
			m.loader.Resume()
			m.log.Info().Uint64("usage", usage).Msg("memory pressure cleared, background loader resumed")
			m.pub.Publish(Event{Name: "pressure_cleared", Fields: map[string]any{"usage": usage}})
		}
		return
	}
	m.roomMu.Lock()
	m.evictRound(ctx, 0, "pressure")
	m.roomMu.Unlock()
	m.pub.Publish(Event{Name: "pressure", Fields: map[string]any{"usage": usage, "limit": m.monitor.Limit()}})

	still, usage, err := m.monitor.OverBudget()
	if err == nil && still && !m.loader.IsPaused() {
		m.pressurePaused.Store(true)
		m.loader.Pause()
		m.log.Warn().Uint64("usage", usage).Uint64("limit", m.monitor.Limit()).Msg("sustained memory pressure, background loader paused")
	}
}
