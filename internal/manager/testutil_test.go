package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"analyzerd/internal/memory"
)

const mb = 1 << 20

// fakeLoader hands out string handles and counts calls per kind.
type fakeLoader struct {
	mu      sync.Mutex
	loads   map[Kind]int
	unloads map[Kind]int
	order   []Kind
	// gate, when set, blocks Load until closed or ctx ends.
	gate chan struct{}
	// failFirst makes the first n loads fail.
	failFirst int
	err       error
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{loads: map[Kind]int{}, unloads: map[Kind]int{}}
}

func (f *fakeLoader) Load(ctx context.Context, kind Kind) (Handle, error) {
	f.mu.Lock()
	f.loads[kind]++
	f.order = append(f.order, kind)
	gate := f.gate
	fail := f.failFirst > 0 || f.err != nil
	if f.failFirst > 0 {
		f.failFirst--
	}
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("model file corrupt")
	}
	return "handle-" + kind.String(), nil
}

func (f *fakeLoader) Unload(kind Kind, h Handle) error {
	f.mu.Lock()
	f.unloads[kind]++
	f.mu.Unlock()
	return nil
}

func (f *fakeLoader) Loads(k Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads[k]
}

func (f *fakeLoader) Order() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Kind(nil), f.order...)
}

func (f *fakeLoader) Unloads(k Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads[k]
}

// fakeEngine returns a fixed prediction and counts calls.
type fakeEngine struct {
	calls atomic.Int64
	pred  Prediction
	// errs are returned in order before successful predictions.
	mu   sync.Mutex
	errs []error
	// block, when set, holds Infer until closed.
	block chan struct{}
}

func (e *fakeEngine) Infer(ctx context.Context, h Handle, text string) (Prediction, error) {
	e.calls.Add(1)
	if h == nil {
		return Prediction{}, errors.New("nil handle")
	}
	if e.block != nil {
		<-e.block
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return Prediction{}, err
	}
	p := e.pred
	if p.Label == "" {
		p = Prediction{Label: "neutral", Score: 0.9}
	}
	return p, nil
}

// settableQuery reports whatever the test stores.
type settableQuery struct{ v atomic.Uint64 }

func (q *settableQuery) CurrentUsageBytes() (uint64, error) { return q.v.Load(), nil }

var _ memory.Query = (*settableQuery)(nil)

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: time.Unix(1700000000, 0)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// specFor builds a KindSpec with the default priority.
func specFor(k Kind, estimate uint64, l ModelLoader, e InferenceEngine) KindSpec {
	return KindSpec{Kind: k, Priority: k.DefaultPriority(), EstimateBytes: estimate, Loader: l, Engine: e}
}

// newTestManager builds a Manager with background work disabled unless cfg
// enables it, and shuts it down on cleanup.
func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.MemoryCheckInterval == 0 {
		cfg.MemoryCheckInterval = -1
	}
	if cfg.EvictCheckEvery == 0 {
		cfg.EvictCheckEvery = -1
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func mustAnalyze(t *testing.T, m *Manager, text string, kinds ...Kind) map[Kind]Outcome {
	t.Helper()
	out, err := m.Analyze(testCtx(t), text, kinds, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return out
}
