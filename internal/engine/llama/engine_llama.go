//go:build llama

package llama

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"analyzerd/internal/manager"
)

// handle owns one loaded model plus its label centroids. go-llama.cpp models
// are not safe for concurrent use, so embedding calls are serialized.
type handle struct {
	mu        sync.Mutex
	model     *llama.LLama
	labels    []string
	centroids [][]float32
}

func (e *Engine) Load(ctx context.Context, kind manager.Kind) (manager.Handle, error) {
	path := strings.TrimSpace(e.paths[kind])
	if path == "" {
		return nil, fmt.Errorf("no gguf model configured for %s", kind)
	}
	protos, ok := Prototypes[kind]
	if !ok {
		return nil, fmt.Errorf("no label prototypes for %s", kind)
	}
	m, err := llama.New(path, llama.EnableEmbeddings, llama.SetContext(e.ctxSize))
	if err != nil {
		return nil, err
	}
	h := &handle{model: m}
	for label := range protos {
		h.labels = append(h.labels, label)
	}
	sort.Strings(h.labels)
	for _, label := range h.labels {
		if err := ctx.Err(); err != nil {
			m.Free()
			return nil, err
		}
		var vs [][]float32
		for _, s := range protos[label] {
			v, err := m.Embeddings(s, llama.SetThreads(e.threads))
			if err != nil {
				m.Free()
				return nil, fmt.Errorf("embed prototype %q: %w", label, err)
			}
			vs = append(vs, v)
		}
		h.centroids = append(h.centroids, centroid(vs))
	}
	e.log.Info().Str("kind", kind.String()).Str("path", path).Int("labels", len(h.labels)).Msg("llama model loaded")
	return h, nil
}

func (e *Engine) Unload(kind manager.Kind, mh manager.Handle) error {
	h, ok := mh.(*handle)
	if !ok {
		return fmt.Errorf("unexpected handle %T", mh)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model != nil {
		h.model.Free()
		h.model = nil
	}
	return nil
}

func (e *Engine) Infer(ctx context.Context, mh manager.Handle, text string) (manager.Prediction, error) {
	h, ok := mh.(*handle)
	if !ok {
		return manager.Prediction{}, fmt.Errorf("unexpected handle %T", mh)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return manager.Prediction{}, errors.New("llama model not initialized")
	}
	if err := ctx.Err(); err != nil {
		return manager.Prediction{}, err
	}
	v, err := h.model.Embeddings(text, llama.SetThreads(e.threads))
	if err != nil {
		return manager.Prediction{}, err
	}
	label, score := nearest(v, h.labels, h.centroids, e.temperature)
	return manager.Prediction{Label: label, Score: score}, nil
}

// Available reports whether this binary was built with llama support.
func Available() bool { return true }
