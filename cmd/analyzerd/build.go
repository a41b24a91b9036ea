package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"analyzerd/internal/common/fsutil"
	"analyzerd/internal/config"
	"analyzerd/internal/engine/lexicon"
	"analyzerd/internal/engine/llama"
	"analyzerd/internal/manager"
	"analyzerd/internal/memory"
	"analyzerd/internal/registry"
)

// engine is what both engine packages provide.
type engine interface {
	manager.ModelLoader
	manager.InferenceEngine
}

// modelExts lists the file extensions each engine loads, preferred first.
func modelExts(engineName string) []string {
	if engineName == "llama" {
		return []string{".gguf"}
	}
	return []string{".yaml", ".yml"}
}

// discoverModels scans the models dir. A missing dir is not an error for the
// lexicon engine, which falls back to built-in lexicons.
func discoverModels(cfg config.Config, log zerolog.Logger) (map[manager.Kind]registry.ModelFile, error) {
	files, err := registry.LoadDir(cfg.ModelsDir, modelExts(cfg.Engine)...)
	if err == nil {
		return files, nil
	}
	if cfg.Engine == "lexicon" {
		log.Warn().Err(err).Str("models_dir", cfg.ModelsDir).Msg("models dir unavailable, using built-in lexicons")
		return map[manager.Kind]registry.ModelFile{}, nil
	}
	return nil, err
}

// kindPlan is the resolved configuration of one kind before an engine exists.
type kindPlan struct {
	kind     manager.Kind
	priority int
	estimate uint64
	path     string
}

// planKinds resolves priority, model path and memory estimate for each
// configured kind. The estimate comes from the config, else the model file
// size, else the built-in lexicon size.
func planKinds(cfg config.Config, files map[manager.Kind]registry.ModelFile) ([]kindPlan, error) {
	plans := make([]kindPlan, 0, len(cfg.Kinds))
	for _, kc := range cfg.Kinds {
		kind, err := manager.ParseKind(kc.Name)
		if err != nil {
			return nil, err
		}
		p := kindPlan{kind: kind, priority: kind.DefaultPriority()}
		if kc.Priority != nil {
			p.priority = *kc.Priority
		}
		var size int64
		switch {
		case kc.ModelPath != "":
			path, err := fsutil.ExpandHome(kc.ModelPath)
			if err != nil {
				return nil, fmt.Errorf("%s model_path: %w", kind, err)
			}
			p.path = path
			size, _ = fsutil.FileSize(path)
		case files[kind].Path != "":
			p.path = files[kind].Path
			size = files[kind].SizeBytes
		}
		if p.path == "" && cfg.Engine == "llama" {
			return nil, fmt.Errorf("%s: no %s model in %s", kind, modelExts(cfg.Engine)[0], cfg.ModelsDir)
		}
		switch {
		case kc.MemoryEstimateMB > 0:
			p.estimate = uint64(kc.MemoryEstimateMB) << 20
		case size > 0:
			p.estimate = uint64(size)
		case p.path == "":
			p.estimate = uint64(lexicon.BuiltinSize(kind))
		}
		plans = append(plans, p)
	}
	return plans, nil
}

func newEngine(cfg config.Config, plans []kindPlan, log zerolog.Logger) engine {
	paths := make(map[manager.Kind]string, len(plans))
	for _, p := range plans {
		if p.path != "" {
			paths[p.kind] = p.path
		}
	}
	if cfg.Engine == "llama" {
		if !llama.Available() {
			log.Warn().Msg("llama engine selected but binary built without -tags=llama; loads will fail")
		}
		return llama.New(paths, llama.Options{ContextSize: cfg.LlamaCtx, Threads: cfg.LlamaThreads}, log)
	}
	return lexicon.New(paths, log)
}

func kindSpecs(plans []kindPlan, e engine) []manager.KindSpec {
	specs := make([]manager.KindSpec, 0, len(plans))
	for _, p := range plans {
		src := p.path
		if src == "" {
			src = "builtin"
		}
		specs = append(specs, manager.KindSpec{
			Kind:          p.kind,
			Priority:      p.priority,
			EstimateBytes: p.estimate,
			Source:        src,
			Loader:        e,
			Engine:        e,
		})
	}
	return specs
}

// memoryQuery selects the usage source. The returned close func releases
// device handles and is never nil.
func memoryQuery(cfg config.Config) (memory.Query, func(), error) {
	noop := func() {}
	switch cfg.MemorySource {
	case memory.SourceRSS:
		return memory.Fallback(memory.RSSQuery{}, memory.RuntimeQuery{}), noop, nil
	case memory.SourceRuntime:
		return memory.RuntimeQuery{}, noop, nil
	case memory.SourceGPU:
		q, err := memory.NewGPUQuery(cfg.GPUIndex)
		if err != nil {
			return nil, noop, fmt.Errorf("gpu memory source: %w", err)
		}
		return q, func() { _ = q.Close() }, nil
	case memory.SourceEstimate:
		return nil, noop, nil
	}
	return nil, noop, errors.New("unknown memory source " + cfg.MemorySource)
}

// buildManager wires discovery, engines and the memory source into a Manager.
func buildManager(cfg config.Config, log zerolog.Logger) (*manager.Manager, func(), error) {
	files, err := discoverModels(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	plans, err := planKinds(cfg, files)
	if err != nil {
		return nil, nil, err
	}
	e := newEngine(cfg, plans, log)
	q, closeQuery, err := memoryQuery(cfg)
	if err != nil {
		return nil, nil, err
	}
	mcfg := cfg.ManagerConfig()
	mcfg.Kinds = kindSpecs(plans, e)
	mcfg.Memory = q
	mcfg.Logger = &log
	mgr, err := manager.New(mcfg)
	if err != nil {
		closeQuery()
		return nil, nil, err
	}
	for _, p := range plans {
		log.Info().Str("kind", p.kind.String()).Int("priority", p.priority).Uint64("estimate_bytes", p.estimate).Str("path", p.path).Msg("kind configured")
	}
	return mgr, closeQuery, nil
}
