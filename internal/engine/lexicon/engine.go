package lexicon

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"analyzerd/internal/manager"
)

// Engine loads lexicons and classifies with them. It implements both
// manager.ModelLoader and manager.InferenceEngine.
type Engine struct {
	paths map[manager.Kind]string
	log   zerolog.Logger
}

// New returns an Engine. Kinds without a path use the built-in lexicon.
func New(paths map[manager.Kind]string, log zerolog.Logger) *Engine {
	p := make(map[manager.Kind]string, len(paths))
	for k, v := range paths {
		p[k] = v
	}
	return &Engine{paths: p, log: log}
}

func (e *Engine) Load(ctx context.Context, kind manager.Kind) (manager.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p := e.paths[kind]; p != "" {
		lx, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		e.log.Debug().Str("kind", kind.String()).Str("path", p).Int("tokens", len(lx.Weights)).Msg("lexicon loaded")
		return lx, nil
	}
	lx, err := Builtin(kind)
	if err != nil {
		return nil, err
	}
	e.log.Debug().Str("kind", kind.String()).Msg("built-in lexicon loaded")
	return lx, nil
}

// Unload drops nothing; the handle is garbage once the registry releases it.
func (e *Engine) Unload(kind manager.Kind, h manager.Handle) error {
	if _, ok := h.(*Lexicon); !ok {
		return fmt.Errorf("unexpected handle %T", h)
	}
	return nil
}

func (e *Engine) Infer(ctx context.Context, h manager.Handle, text string) (manager.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return manager.Prediction{}, err
	}
	lx, ok := h.(*Lexicon)
	if !ok {
		return manager.Prediction{}, fmt.Errorf("unexpected handle %T", h)
	}
	label, score := lx.Classify(text)
	return manager.Prediction{Label: label, Score: score}, nil
}
