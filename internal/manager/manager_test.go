package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAnalyzeConcurrentMissesLoadOnce(t *testing.T) {
	l := newFakeLoader()
	l.gate = make(chan struct{})
	e := &fakeEngine{}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindToxicity, 100*mb, l, e)}})
	ctx := testCtx(t)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Analyze(ctx, "hello there", []Kind{KindToxicity}, nil)
			if err != nil {
				errs <- err
				return
			}
			if oc := out[KindToxicity]; oc.Err != nil || oc.Result == nil {
				errs <- errors.New("missing result")
			}
		}()
	}
	waitFor(t, time.Second, func() bool { return m.registry.State(KindToxicity) == StateLoading })
	time.Sleep(20 * time.Millisecond)
	close(l.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("analyze: %v", err)
	}
	if got := l.Loads(KindToxicity); got != 1 {
		t.Fatalf("expected exactly 1 load, got %d", got)
	}
}

func TestAnalyzeSecondCallIsCacheHit(t *testing.T) {
	l := newFakeLoader()
	e := &fakeEngine{pred: Prediction{Label: "toxic", Score: 0.8}}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindToxicity, 100*mb, l, e)}})

	first := mustAnalyze(t, m, "you are awful", KindToxicity)[KindToxicity]
	if first.Err != nil || first.CacheHit {
		t.Fatalf("first call: %+v", first)
	}
	// Same text after normalization.
	second := mustAnalyze(t, m, "  you are\x07 awful\n", KindToxicity)[KindToxicity]
	if second.Err != nil || !second.CacheHit {
		t.Fatalf("second call should hit cache: %+v", second)
	}
	if *first.Result != *second.Result {
		t.Fatalf("results differ: %+v vs %+v", *first.Result, *second.Result)
	}
	if got := e.calls.Load(); got != 1 {
		t.Fatalf("engine should run once, ran %d", got)
	}
	if first.Result.Severity != "high" || first.Result.Action != "timeout" {
		t.Fatalf("unexpected interpretation: %+v", *first.Result)
	}
}

func TestAnalyzeOptionsArePartOfKey(t *testing.T) {
	l := newFakeLoader()
	e := &fakeEngine{}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindSentiment, 100*mb, l, e)}})
	ctx := testCtx(t)

	for _, opts := range []Options{nil, {"lang": "en"}, {"lang": "de"}, {"lang": "en"}} {
		if _, err := m.Analyze(ctx, "fine", []Kind{KindSentiment}, opts); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	if got := e.calls.Load(); got != 3 {
		t.Fatalf("expected 3 engine calls, got %d", got)
	}
}

func TestAnalyzePartialFailure(t *testing.T) {
	good := newFakeLoader()
	bad := newFakeLoader()
	bad.err = errors.New("weights missing")
	m := newTestManager(t, Config{Kinds: []KindSpec{
		specFor(KindToxicity, 100*mb, good, &fakeEngine{}),
		specFor(KindEmotion, 100*mb, bad, &fakeEngine{}),
	}})

	out := mustAnalyze(t, m, "hi", KindToxicity, KindEmotion)
	if len(out) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(out))
	}
	if out[KindToxicity].Err != nil || out[KindToxicity].Result == nil {
		t.Fatalf("toxicity should succeed: %+v", out[KindToxicity])
	}
	emo := out[KindEmotion]
	if emo.Result != nil || !IsLoadFailure(emo.Err) {
		t.Fatalf("emotion should fail to load: %+v", emo)
	}
	if ErrorCode(emo.Err) != "load_failure" {
		t.Fatalf("code: %s", ErrorCode(emo.Err))
	}
	if got := m.registry.State(KindEmotion); got != StateFailed {
		t.Fatalf("emotion state = %s", got)
	}
}

func TestFailedKindRetriesOnlyAfterCooldown(t *testing.T) {
	clock := newTestClock()
	l := newFakeLoader()
	l.failFirst = 1
	m := newTestManager(t, Config{
		Kinds:               []KindSpec{specFor(KindEmotion, 100*mb, l, &fakeEngine{})},
		FailedRetryCooldown: time.Minute,
		Clock:               clock.Now,
	})

	if oc := mustAnalyze(t, m, "x", KindEmotion)[KindEmotion]; !IsLoadFailure(oc.Err) {
		t.Fatalf("expected load failure, got %+v", oc)
	}
	clock.Advance(30 * time.Second)
	oc := mustAnalyze(t, m, "x", KindEmotion)[KindEmotion]
	var lf *LoadFailureError
	if !errors.As(oc.Err, &lf) {
		t.Fatalf("expected cached load failure, got %+v", oc)
	}
	if want := time.Unix(1700000000, 0).Add(time.Minute); !lf.RetryAt.Equal(want) {
		t.Fatalf("retry at %v, want %v", lf.RetryAt, want)
	}
	if got := l.Loads(KindEmotion); got != 1 {
		t.Fatalf("no new attempt expected during cooldown, loads=%d", got)
	}

	clock.Advance(31 * time.Second)
	if oc := mustAnalyze(t, m, "x", KindEmotion)[KindEmotion]; oc.Err != nil {
		t.Fatalf("expected success after cooldown: %v", oc.Err)
	}
	if got := l.Loads(KindEmotion); got != 2 {
		t.Fatalf("loads = %d, want 2", got)
	}
	st := m.registry.Snapshot()[0]
	if st.Failures != 1 || st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Fatalf("unexpected counters: %+v", st)
	}
}

func TestInferenceErrorsAreNotCached(t *testing.T) {
	l := newFakeLoader()
	e := &fakeEngine{errs: []error{errors.New("tensor mismatch")}}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindSentiment, 100*mb, l, e)}})

	oc := mustAnalyze(t, m, "meh", KindSentiment)[KindSentiment]
	if !IsInferenceFailure(oc.Err) || ErrorCode(oc.Err) != "inference_failure" {
		t.Fatalf("expected inference failure, got %+v", oc)
	}
	oc = mustAnalyze(t, m, "meh", KindSentiment)[KindSentiment]
	if oc.Err != nil || oc.CacheHit {
		t.Fatalf("second call should be a fresh success: %+v", oc)
	}
	if got := e.calls.Load(); got != 2 {
		t.Fatalf("engine calls = %d, want 2", got)
	}
}

func TestEnginePanicBecomesInferenceError(t *testing.T) {
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindEmotion, mb, newFakeLoader(), panicEngine{})}})
	oc := mustAnalyze(t, m, "boom", KindEmotion)[KindEmotion]
	if !IsInferenceFailure(oc.Err) {
		t.Fatalf("expected inference failure, got %+v", oc)
	}
	if st := m.registry.Snapshot()[0]; st.Inflight != 0 {
		t.Fatalf("pin leaked: %+v", st)
	}
}

type panicEngine struct{}

func (panicEngine) Infer(context.Context, Handle, string) (Prediction, error) { panic("bad tensor") }

func TestCapacityExceededWhenEstimateAboveLimit(t *testing.T) {
	l := newFakeLoader()
	m := newTestManager(t, Config{
		Kinds:            []KindSpec{specFor(KindHateSpeech, 600*mb, l, &fakeEngine{})},
		MemoryLimitBytes: 500 * mb,
	})
	oc := mustAnalyze(t, m, "text", KindHateSpeech)[KindHateSpeech]
	if !IsCapacityExceeded(oc.Err) {
		t.Fatalf("expected capacity exceeded, got %+v", oc)
	}
	if l.Loads(KindHateSpeech) != 0 {
		t.Fatal("must not load over budget")
	}
}

func TestAdmissionEvictsOldestToMakeRoom(t *testing.T) {
	clock := newTestClock()
	l := newFakeLoader()
	var kinds []KindSpec
	for _, k := range AllKinds() {
		kinds = append(kinds, specFor(k, 300*mb, l, &fakeEngine{}))
	}
	m := newTestManager(t, Config{Kinds: kinds, MemoryLimitBytes: 1000 * mb, Clock: clock.Now})

	for _, k := range []Kind{KindToxicity, KindSentiment, KindEmotion} {
		if oc := mustAnalyze(t, m, "warm", k)[k]; oc.Err != nil {
			t.Fatalf("%s: %v", k, oc.Err)
		}
		clock.Advance(time.Second)
	}
	if oc := mustAnalyze(t, m, "warm", KindHateSpeech)[KindHateSpeech]; oc.Err != nil {
		t.Fatalf("hate_speech: %v", oc.Err)
	}
	want := map[Kind]State{
		KindToxicity:   StateUnloaded,
		KindSentiment:  StateLoaded,
		KindEmotion:    StateLoaded,
		KindHateSpeech: StateLoaded,
	}
	for k, s := range want {
		if got := m.registry.State(k); got != s {
			t.Errorf("%s: state %s, want %s", k, got, s)
		}
	}
	if l.Unloads(KindToxicity) != 1 {
		t.Fatalf("toxicity unloads = %d", l.Unloads(KindToxicity))
	}
	if used := m.registry.LoadedBytes(); used > 1000*mb {
		t.Fatalf("budget exceeded: %d", used)
	}
}

func TestAnalyzeDeadlineReturnsNotReadyWhileLoadContinues(t *testing.T) {
	l := newFakeLoader()
	l.gate = make(chan struct{})
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindEmotion, mb, l, &fakeEngine{})}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := m.Analyze(ctx, "slow", []Kind{KindEmotion}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if oc := out[KindEmotion]; !IsNotReady(oc.Err) || ErrorCode(oc.Err) != "not_ready" {
		t.Fatalf("expected not ready, got %+v", oc)
	}
	close(l.gate)
	waitFor(t, time.Second, func() bool { return m.registry.State(KindEmotion) == StateLoaded })
	if l.Loads(KindEmotion) != 1 {
		t.Fatalf("loads = %d", l.Loads(KindEmotion))
	}
}

func TestEvictRefusesPinnedSlot(t *testing.T) {
	l := newFakeLoader()
	e := &fakeEngine{block: make(chan struct{})}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindToxicity, mb, l, e)}})
	ctx := testCtx(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Analyze(ctx, "hold", []Kind{KindToxicity}, nil)
	}()
	waitFor(t, time.Second, func() bool { return m.registry.Snapshot()[0].Inflight == 1 })

	if err := m.Evict(ctx, KindToxicity); !errors.Is(err, ErrSlotBusy) {
		t.Fatalf("expected ErrSlotBusy, got %v", err)
	}
	close(e.block)
	<-done
	if err := m.Evict(ctx, KindToxicity); err != nil {
		t.Fatalf("evict after drain: %v", err)
	}
	if err := m.Evict(ctx, KindToxicity); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
	if l.Unloads(KindToxicity) != 1 {
		t.Fatalf("unloads = %d", l.Unloads(KindToxicity))
	}
}

func TestEvictWaitsForInFlightLoad(t *testing.T) {
	l := newFakeLoader()
	l.gate = make(chan struct{})
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindSentiment, mb, l, &fakeEngine{})}})

	go func() { _, _ = m.registry.EnsureLoaded(context.Background(), KindSentiment) }()
	waitFor(t, time.Second, func() bool { return m.registry.State(KindSentiment) == StateLoading })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.Evict(ctx, KindSentiment); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("evict should wait for the load, got %v", err)
	}
	if got := m.registry.State(KindSentiment); got != StateLoading {
		t.Fatalf("state changed under load: %s", got)
	}
	close(l.gate)
	waitFor(t, time.Second, func() bool { return m.registry.State(KindSentiment) == StateLoaded })
	if err := m.Evict(testCtx(t), KindSentiment); err != nil {
		t.Fatalf("evict: %v", err)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindToxicity, mb, newFakeLoader(), &fakeEngine{})}})
	ctx := testCtx(t)

	if _, err := m.Analyze(ctx, " \x01 \n", []Kind{KindToxicity}, nil); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("blank text: %v", err)
	}
	if _, err := m.Analyze(ctx, "ok", nil, nil); !errors.Is(err, ErrNoKinds) {
		t.Fatalf("no kinds: %v", err)
	}
	if _, err := m.Analyze(ctx, "ok", []Kind{KindEmotion}, nil); !IsUnknownKind(err) {
		t.Fatalf("unconfigured kind: %v", err)
	}
	if _, err := m.Analyze(ctx, "ok", []Kind{KindToxicity}, Options{"f": func() {}}); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("bad options: %v", err)
	}
}

func TestAnalyzeDedupesKinds(t *testing.T) {
	e := &fakeEngine{}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindToxicity, mb, newFakeLoader(), e)}})
	out := mustAnalyze(t, m, "twice", KindToxicity, KindToxicity)
	if len(out) != 1 || e.calls.Load() != 1 {
		t.Fatalf("outcomes=%d calls=%d", len(out), e.calls.Load())
	}
}

func TestShutdownEvictsAllAndRejectsWork(t *testing.T) {
	l := newFakeLoader()
	m := newTestManager(t, Config{Kinds: []KindSpec{
		specFor(KindToxicity, mb, l, &fakeEngine{}),
		specFor(KindSentiment, mb, l, &fakeEngine{}),
	}})
	mustAnalyze(t, m, "load both", KindToxicity, KindSentiment)
	if !m.Ready() {
		t.Fatal("expected ready with loaded kinds")
	}

	if err := m.Shutdown(testCtx(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, k := range []Kind{KindToxicity, KindSentiment} {
		if l.Unloads(k) != 1 {
			t.Errorf("%s unloads = %d", k, l.Unloads(k))
		}
		if got := m.registry.State(k); got != StateUnloaded {
			t.Errorf("%s state = %s", k, got)
		}
	}
	if m.Ready() {
		t.Fatal("not ready after shutdown")
	}
	if _, err := m.Analyze(testCtx(t), "late", []Kind{KindToxicity}, nil); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestStatsReportsState(t *testing.T) {
	pub := NewMemoryPublisher()
	l := newFakeLoader()
	m := newTestManager(t, Config{
		Kinds:     []KindSpec{specFor(KindToxicity, 100*mb, l, &fakeEngine{}), specFor(KindEmotion, 50*mb, l, &fakeEngine{})},
		Publisher: pub,
	})
	mustAnalyze(t, m, "a", KindToxicity)
	mustAnalyze(t, m, "a", KindToxicity)

	st := m.Stats()
	if len(st.Kinds) != 2 || st.Kinds[0].Kind != "toxicity" || st.Kinds[0].State != "loaded" {
		t.Fatalf("kinds: %+v", st.Kinds)
	}
	if st.Kinds[1].State != "unloaded" {
		t.Fatalf("emotion: %+v", st.Kinds[1])
	}
	if st.Cache.Hits != 1 || st.Cache.Misses != 1 || st.Cache.Size != 1 {
		t.Fatalf("cache: %+v", st.Cache)
	}
	if st.Memory.Source != "estimate" || st.Memory.UsageBytes != 100*mb || st.Memory.LimitBytes != 0 {
		t.Fatalf("memory: %+v", st.Memory)
	}
	if st.LoadsTotal != 1 || st.AnalyzeTotal != 2 {
		t.Fatalf("totals: loads=%d analyze=%d", st.LoadsTotal, st.AnalyzeTotal)
	}
	if pub.Count("ensure_ready", KindToxicity) != 1 || pub.Count("ensure_start", 0) != 1 {
		t.Fatalf("events: %+v", pub.Events())
	}
}

func TestClearCacheForcesRecompute(t *testing.T) {
	e := &fakeEngine{}
	m := newTestManager(t, Config{Kinds: []KindSpec{specFor(KindSentiment, mb, newFakeLoader(), e)}})
	mustAnalyze(t, m, "again", KindSentiment)
	m.ClearCache()
	if oc := mustAnalyze(t, m, "again", KindSentiment)[KindSentiment]; oc.CacheHit {
		t.Fatal("expected miss after clear")
	}
	if e.calls.Load() != 2 {
		t.Fatalf("engine calls = %d", e.calls.Load())
	}
}

func TestNewValidatesConfig(t *testing.T) {
	l, e := newFakeLoader(), &fakeEngine{}
	cases := map[string]Config{
		"empty":     {},
		"invalid":   {Kinds: []KindSpec{{Kind: 0, Loader: l, Engine: e}}},
		"duplicate": {Kinds: []KindSpec{specFor(KindEmotion, 0, l, e), specFor(KindEmotion, 0, l, e)}},
		"no loader": {Kinds: []KindSpec{{Kind: KindEmotion, Engine: e}}},
	}
	for name, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
