//go:build !llama

package llama

import (
	"context"

	"analyzerd/internal/manager"
)

// This file is compiled when the 'llama' build tag is NOT set, keeping default
// builds CGO-free. Loads fail fast so the kind reports a load failure.

const unavailable = "llama support not built (missing 'llama' build tag)"

func (e *Engine) Load(ctx context.Context, kind manager.Kind) (manager.Handle, error) {
	return nil, manager.ErrDependencyUnavailable(unavailable)
}

func (e *Engine) Unload(kind manager.Kind, h manager.Handle) error { return nil }

func (e *Engine) Infer(ctx context.Context, h manager.Handle, text string) (manager.Prediction, error) {
	select {
	case <-ctx.Done():
		return manager.Prediction{}, ctx.Err()
	default:
	}
	return manager.Prediction{}, manager.ErrDependencyUnavailable(unavailable)
}

// Available reports whether this binary was built with llama support.
func Available() bool { return false }
