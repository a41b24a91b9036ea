package llama

import (
	"github.com/rs/zerolog"

	"analyzerd/internal/manager"
)

// Engine implements manager.ModelLoader and manager.InferenceEngine over GGUF
// embedding models, one file per kind.
type Engine struct {
	paths       map[manager.Kind]string
	ctxSize     int
	threads     int
	temperature float64
	log         zerolog.Logger
}

// Options configures the llama runtime.
type Options struct {
	ContextSize int
	Threads     int
	// Temperature sharpens the similarity softmax; 0 means 0.05.
	Temperature float64
}

// New returns an Engine loading paths[kind] for each kind.
func New(paths map[manager.Kind]string, opts Options, log zerolog.Logger) *Engine {
	if opts.ContextSize <= 0 {
		opts.ContextSize = 512
	}
	if opts.Threads <= 0 {
		opts.Threads = 4
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.05
	}
	p := make(map[manager.Kind]string, len(paths))
	for k, v := range paths {
		p[k] = v
	}
	return &Engine{paths: p, ctxSize: opts.ContextSize, threads: opts.Threads, temperature: opts.Temperature, log: log}
}
