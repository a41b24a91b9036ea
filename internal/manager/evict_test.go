package manager

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSelectEvictionCandidates(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	at := func(k Kind, sec int) SlotStatus {
		return SlotStatus{Kind: k, State: StateLoaded, LastUsedAt: t0.Add(time.Duration(sec) * time.Second)}
	}
	cases := []struct {
		name   string
		loaded []SlotStatus
		want   []Kind
	}{
		{"empty", nil, nil},
		{"single", []SlotStatus{at(KindEmotion, 5)}, []Kind{KindEmotion}},
		{"half of four", []SlotStatus{
			at(KindHateSpeech, 4), at(KindEmotion, 3), at(KindToxicity, 1), at(KindSentiment, 2),
		}, []Kind{KindToxicity, KindSentiment}},
		{"floor of three", []SlotStatus{at(KindSentiment, 2), at(KindEmotion, 1), at(KindToxicity, 3)}, []Kind{KindEmotion}},
		{"ties by name", []SlotStatus{at(KindToxicity, 1), at(KindSentiment, 1), at(KindEmotion, 1), at(KindHateSpeech, 9)},
			[]Kind{KindEmotion, KindSentiment}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectEvictionCandidates(tc.loaded)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSelectEvictionCandidatesDoesNotMutateInput(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	in := []SlotStatus{
		{Kind: KindToxicity, LastUsedAt: t0.Add(2 * time.Second)},
		{Kind: KindSentiment, LastUsedAt: t0},
	}
	_ = SelectEvictionCandidates(in)
	if in[0].Kind != KindToxicity || in[1].Kind != KindSentiment {
		t.Fatalf("input reordered: %+v", in)
	}
}

// loadAllFourKinds loads every kind with usage reported as zero, in the order
// toxicity, sentiment, emotion, hate_speech, one second apart.
func loadAllFourKinds(t *testing.T, cfg Config) (*Manager, *fakeLoader, *settableQuery) {
	t.Helper()
	clock := newTestClock()
	l := newFakeLoader()
	q := &settableQuery{}
	for _, k := range AllKinds() {
		cfg.Kinds = append(cfg.Kinds, specFor(k, 300*mb, l, &fakeEngine{}))
	}
	cfg.Memory = q
	cfg.MemoryLimitBytes = 1000 * mb
	cfg.Clock = clock.Now
	m := newTestManager(t, cfg)
	for _, k := range AllKinds() {
		if oc := mustAnalyze(t, m, "warm", k)[k]; oc.Err != nil {
			t.Fatalf("%s: %v", k, oc.Err)
		}
		clock.Advance(time.Second)
	}
	return m, l, q
}

func TestPressureCheckEvictsOldestHalf(t *testing.T) {
	pub := NewMemoryPublisher()
	m, l, q := loadAllFourKinds(t, Config{Publisher: pub})

	q.v.Store(1200 * mb)
	m.checkPressure(testCtx(t))

	want := map[Kind]State{
		KindToxicity:   StateUnloaded,
		KindSentiment:  StateUnloaded,
		KindEmotion:    StateLoaded,
		KindHateSpeech: StateLoaded,
	}
	for k, s := range want {
		if got := m.registry.State(k); got != s {
			t.Errorf("%s: state %s, want %s", k, got, s)
		}
	}
	if l.Unloads(KindToxicity) != 1 || l.Unloads(KindSentiment) != 1 {
		t.Fatalf("unloads: tox=%d sent=%d", l.Unloads(KindToxicity), l.Unloads(KindSentiment))
	}
	if pub.Count("evict", 0) != 2 || pub.Count("pressure", 0) != 1 {
		t.Fatalf("events: %+v", pub.Events())
	}
}

func TestSustainedPressurePausesLoaderUntilCleared(t *testing.T) {
	m, _, q := loadAllFourKinds(t, Config{})

	// The fake source keeps reporting the same usage, so eviction cannot help.
	q.v.Store(1500 * mb)
	m.checkPressure(testCtx(t))
	if !m.loader.IsPaused() || !m.pressurePaused.Load() {
		t.Fatal("loader should be paused under sustained pressure")
	}
	if !m.Stats().Loader.PausedForPressure {
		t.Fatal("stats should report pressure pause")
	}

	q.v.Store(200 * mb)
	m.checkPressure(testCtx(t))
	if m.loader.IsPaused() || m.pressurePaused.Load() {
		t.Fatal("loader should resume once usage is under budget")
	}
}

func TestOperatorPauseSurvivesPressureRecovery(t *testing.T) {
	m, _, q := loadAllFourKinds(t, Config{})
	m.PauseLoader()
	q.v.Store(1500 * mb)
	m.checkPressure(testCtx(t))
	q.v.Store(0)
	m.checkPressure(testCtx(t))
	if !m.loader.IsPaused() {
		t.Fatal("operator pause must not be lifted by pressure recovery")
	}
}

func TestRequestCountTriggersPressureCheck(t *testing.T) {
	m, _, q := loadAllFourKinds(t, Config{EvictCheckEvery: 5})
	q.v.Store(1200 * mb)
	// Four warm-up calls already counted; the fifth triggers the check.
	mustAnalyze(t, m, "warm", KindHateSpeech)
	waitFor(t, time.Second, func() bool {
		return m.registry.State(KindToxicity) == StateUnloaded && m.registry.State(KindSentiment) == StateUnloaded
	})
}

func TestPressureCheckPrunesExpiredResults(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, Config{
		Kinds:    []KindSpec{specFor(KindEmotion, mb, newFakeLoader(), &fakeEngine{})},
		CacheTTL: time.Minute,
		Clock:    clock.Now,
	})
	mustAnalyze(t, m, "one", KindEmotion)
	mustAnalyze(t, m, "two", KindEmotion)
	clock.Advance(2 * time.Minute)
	m.checkPressure(testCtx(t))
	if n := m.cache.Len(); n != 0 {
		t.Fatalf("cache len = %d after prune", n)
	}
	if st := m.Stats(); st.Cache.Expirations != 2 {
		t.Fatalf("expirations = %d", st.Cache.Expirations)
	}
}

// analyzeAsync runs Analyze for kind in the background and reports the
// outcome error on the returned channel.
func analyzeAsync(t *testing.T, m *Manager, kind Kind) <-chan error {
	t.Helper()
	ctx := testCtx(t)
	done := make(chan error, 1)
	go func() {
		out, err := m.Analyze(ctx, "shared text", []Kind{kind}, nil)
		if err != nil {
			done <- err
			return
		}
		done <- out[kind].Err
	}()
	return done
}

func TestConcurrentMissesWaitOnLoadUnderBudget(t *testing.T) {
	l := newFakeLoader()
	l.gate = make(chan struct{})
	m := newTestManager(t, Config{
		Kinds:            []KindSpec{specFor(KindToxicity, 300*mb, l, &fakeEngine{})},
		MemoryLimitBytes: 400 * mb,
	})

	first := analyzeAsync(t, m, KindToxicity)
	waitFor(t, time.Second, func() bool { return m.registry.State(KindToxicity) == StateLoading })
	second := analyzeAsync(t, m, KindToxicity)
	time.Sleep(20 * time.Millisecond)
	close(l.gate)

	for i, ch := range []<-chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := l.Loads(KindToxicity); got != 1 {
		t.Fatalf("loads=%d, want 1", got)
	}
}

func TestConcurrentMissDoesNotEvictBystander(t *testing.T) {
	l := newFakeLoader()
	m := newTestManager(t, Config{
		Kinds: []KindSpec{
			specFor(KindToxicity, 300*mb, l, &fakeEngine{}),
			specFor(KindSentiment, 100*mb, l, &fakeEngine{}),
		},
		MemoryLimitBytes: 500 * mb,
	})
	mustAnalyze(t, m, "warm", KindSentiment)

	l.mu.Lock()
	l.gate = make(chan struct{})
	l.mu.Unlock()
	first := analyzeAsync(t, m, KindToxicity)
	waitFor(t, time.Second, func() bool { return m.registry.State(KindToxicity) == StateLoading })
	second := analyzeAsync(t, m, KindToxicity)
	time.Sleep(20 * time.Millisecond)
	close(l.gate)

	for i, ch := range []<-chan error{first, second} {
		if err := <-ch; err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if st := m.registry.State(KindSentiment); st != StateLoaded || l.Unloads(KindSentiment) != 0 {
		t.Fatalf("sentiment state=%s unloads=%d", st, l.Unloads(KindSentiment))
	}
}

// gatedQuery blocks CurrentUsageBytes once armed until release is closed.
type gatedQuery struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (q *gatedQuery) CurrentUsageBytes() (uint64, error) {
	if q.armed.Load() {
		q.once.Do(func() { close(q.entered) })
		<-q.release
	}
	return 0, nil
}

func TestShutdownWaitsForRequestTriggeredCheck(t *testing.T) {
	q := &gatedQuery{entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, Config{
		Kinds:            []KindSpec{specFor(KindEmotion, mb, newFakeLoader(), &fakeEngine{})},
		Memory:           q,
		MemoryLimitBytes: 100 * mb,
		EvictCheckEvery:  1,
	})
	mustAnalyze(t, m, "warm", KindEmotion)
	q.armed.Store(true)
	mustAnalyze(t, m, "warm", KindEmotion)
	select {
	case <-q.entered:
	case <-time.After(time.Second):
		t.Fatal("pressure check not triggered")
	}

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()
	select {
	case <-done:
		t.Fatal("Shutdown returned while a pressure check was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(q.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}

	m.goPressureCheck()
	m.wg.Wait()
}
