package manager

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"analyzerd/internal/cache"
)

// MaxBulkTexts bounds the number of texts in one AnalyzeBulk call.
const MaxBulkTexts = 50

var (
	// ErrNoTexts is returned by AnalyzeBulk without any texts.
	ErrNoTexts = errors.New("no texts")
	// ErrTooManyTexts is returned by AnalyzeBulk above MaxBulkTexts texts.
	ErrTooManyTexts = fmt.Errorf("more than %d texts", MaxBulkTexts)
)

// BulkItem is the result for texts[Index]. Err is set when the text itself
// was rejected, for example because it is empty after normalization;
// otherwise Outcomes holds one entry per requested kind.
type BulkItem struct {
	Index    int
	Outcomes map[Kind]Outcome
	Err      error
}

// AnalyzeBulk runs Analyze for every text with the same kinds and options.
// Texts share the cache and the single-flight loads, so a cold kind is loaded
// once for the whole batch. A rejected text fails only its own item.
func (m *Manager) AnalyzeBulk(ctx context.Context, texts []string, kinds []Kind, opts Options, callOpts ...AnalyzeOption) ([]BulkItem, error) {
	if m.closing.Load() {
		return nil, ErrShuttingDown
	}
	switch {
	case len(texts) == 0:
		return nil, ErrNoTexts
	case len(texts) > MaxBulkTexts:
		return nil, fmt.Errorf("%w: got %d", ErrTooManyTexts, len(texts))
	}
	kinds, err := m.resolveKinds(kinds)
	if err != nil {
		return nil, err
	}
	if _, err := cache.CanonicalOptions(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	call := newAnalyzeCall(callOpts)
	items := make([]BulkItem, len(texts))
	var g errgroup.Group
	g.SetLimit(m.cfg.MaxParallel)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			out, err := m.analyze(ctx, text, kinds, opts, call)
			items[i] = BulkItem{Index: i, Outcomes: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	m.log.Debug().Int("texts", len(texts)).Int("kinds", len(kinds)).Bool("cache", !call.noCache).Msg("bulk analyze")
	return items, nil
}
