package manager

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"analyzerd/internal/cache"
)

// ErrInvalidOptions is returned when analysis options cannot be encoded into a cache key.
var ErrInvalidOptions = errors.New("invalid options")

// AnalyzeOption adjusts a single Analyze or AnalyzeBulk call.
type AnalyzeOption func(*analyzeCall)

type analyzeCall struct {
	noCache bool
}

// UseCache controls whether the call reads and writes the result cache. It
// defaults to true. With false, every kind runs on its engine and the result
// is not stored.
func UseCache(on bool) AnalyzeOption {
	return func(c *analyzeCall) { c.noCache = !on }
}

func newAnalyzeCall(callOpts []AnalyzeOption) analyzeCall {
	var c analyzeCall
	for _, o := range callOpts {
		o(&c)
	}
	return c
}

// Analyze runs every requested kind over text. The returned error covers the
// whole call (bad input, unknown kinds, shutdown); failures of individual
// kinds are reported in their Outcome and never affect the other kinds.
func (m *Manager) Analyze(ctx context.Context, text string, kinds []Kind, opts Options, callOpts ...AnalyzeOption) (map[Kind]Outcome, error) {
	return m.analyze(ctx, text, kinds, opts, newAnalyzeCall(callOpts))
}

func (m *Manager) analyze(ctx context.Context, text string, kinds []Kind, opts Options, call analyzeCall) (map[Kind]Outcome, error) {
	if m.closing.Load() {
		return nil, ErrShuttingDown
	}
	norm, err := NormalizeText(text)
	if err != nil {
		return nil, err
	}
	kinds, err = m.resolveKinds(kinds)
	if err != nil {
		return nil, err
	}
	if _, err := cache.CanonicalOptions(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	outs := make([]Outcome, len(kinds))
	var g errgroup.Group
	g.SetLimit(m.cfg.MaxParallel)
	for i, k := range kinds {
		i, k := i, k
		g.Go(func() error {
			outs[i] = m.analyzeOne(ctx, k, norm, opts, call)
			return nil
		})
	}
	_ = g.Wait()

	res := make(map[Kind]Outcome, len(kinds))
	for i, k := range kinds {
		res[k] = outs[i]
	}

	n := m.requests.Add(1)
	if every := m.cfg.EvictCheckEvery; every > 0 && n%uint64(every) == 0 {
		m.goPressureCheck()
	}
	return res, nil
}

// resolveKinds dedupes kinds, keeping the first occurrence, and rejects
// kinds that are not configured.
func (m *Manager) resolveKinds(kinds []Kind) ([]Kind, error) {
	if len(kinds) == 0 {
		return nil, ErrNoKinds
	}
	seen := make(map[Kind]bool, len(kinds))
	out := make([]Kind, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := m.registry.Spec(k); !ok {
			return nil, UnknownKindError{Name: k.String()}
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func (m *Manager) analyzeOne(ctx context.Context, kind Kind, text string, opts Options, call analyzeCall) Outcome {
	key, err := cache.NewKey(kind.String(), text, opts)
	if err != nil {
		return Outcome{Err: fmt.Errorf("%w: %v", ErrInvalidOptions, err)}
	}
	if !call.noCache {
		if r, ok := m.cache.Get(key); ok {
			return Outcome{Result: &r, CacheHit: true}
		}
	}
	if m.closing.Load() {
		return Outcome{Err: ErrShuttingDown}
	}

	if err := m.makeRoom(ctx, kind); err != nil {
		m.log.Warn().Str("kind", kind.String()).Err(err).Msg("admission refused")
		return Outcome{Err: err}
	}

	lctx, cancel := context.WithTimeout(ctx, m.cfg.LoadTimeout)
	h, release, err := m.registry.Acquire(lctx, kind)
	cancel()
	if err != nil {
		return Outcome{Err: err}
	}
	spec, _ := m.registry.Spec(kind)
	pred, err := callInfer(ctx, spec.Engine, h, text)
	release()
	if err != nil {
		m.log.Warn().Str("kind", kind.String()).Err(err).Msg("inference failed")
		m.pub.Publish(Event{Name: "infer_failed", Kind: kind, Fields: map[string]any{"error": err.Error()}})
		return Outcome{Err: &InferenceError{Kind: kind, Err: err}}
	}
	m.registry.Touch(kind)

	r := Interpret(kind, pred)
	if !call.noCache {
		m.cache.Put(key, r)
	}
	return Outcome{Result: &r}
}

func callInfer(ctx context.Context, e InferenceEngine, h Handle, text string) (p Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = Prediction{}, fmt.Errorf("engine panic: %v", r)
		}
	}()
	return e.Infer(ctx, h, text)
}
