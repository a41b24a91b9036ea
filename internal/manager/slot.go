package manager

import (
	"context"
	"sync"
	"time"
)

// slot holds the lifecycle of one kind's engine. Field access goes through mu;
// state transitions out of unloaded/failed and back (load, evict) additionally
// hold the one-token lock channel so they never interleave for the same kind.
type slot struct {
	spec KindSpec
	lock chan struct{}

	mu          sync.RWMutex
	state       State
	handle      Handle
	loadedAt    time.Time
	lastUsedAt  time.Time
	failedAt    time.Time
	lastErr     error
	loads       uint64
	failures    uint64
	evictions   uint64
	consecutive int
	inflight    int
}

func newSlot(spec KindSpec) *slot {
	return &slot{spec: spec, lock: make(chan struct{}, 1), state: StateUnloaded}
}

// acquire takes the transition lock or gives up when ctx is done.
func (s *slot) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) release() { <-s.lock }

func (s *slot) loadedHandle() (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateLoaded {
		return s.handle, true
	}
	return nil, false
}

// coolingDown returns the failure to report while a failed slot must not be retried.
func (s *slot) coolingDown(now time.Time, cooldown time.Duration) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateFailed {
		return nil
	}
	retryAt := s.failedAt.Add(cooldown)
	if now.Before(retryAt) {
		return &LoadFailureError{Kind: s.spec.Kind, Err: s.lastErr, RetryAt: retryAt}
	}
	return nil
}

// pin marks the engine as in use so it cannot be evicted until unpinned.
func (s *slot) pin() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoaded {
		return nil, false
	}
	s.inflight++
	return s.handle, true
}

func (s *slot) unpin() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

func (s *slot) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastUsedAt) {
		s.lastUsedAt = now
	}
	s.mu.Unlock()
}

func (s *slot) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *slot) status() SlotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := SlotStatus{
		Kind:                s.spec.Kind,
		State:               s.state,
		Priority:            s.spec.Priority,
		EstimateBytes:       s.spec.EstimateBytes,
		LoadedAt:            s.loadedAt,
		LastUsedAt:          s.lastUsedAt,
		FailedAt:            s.failedAt,
		Loads:               s.loads,
		Failures:            s.failures,
		ConsecutiveFailures: s.consecutive,
		Evictions:           s.evictions,
		Inflight:            s.inflight,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
