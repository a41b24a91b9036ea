package manager

import (
	"context"
	"time"
)

// State represents the lifecycle state of a slot.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateFailed   State = "failed"
)

// Handle is an opaque reference to a loaded engine. Only the loader that
// produced it and its paired InferenceEngine interpret it.
type Handle any

// ModelLoader brings an engine into memory and releases it again.
// Load may take seconds and is called at most once per kind per attempt.
type ModelLoader interface {
	Load(ctx context.Context, kind Kind) (Handle, error)
	Unload(kind Kind, h Handle) error
}

// InferenceEngine classifies text with a loaded handle.
type InferenceEngine interface {
	Infer(ctx context.Context, h Handle, text string) (Prediction, error)
}

// Prediction is the raw engine output.
type Prediction struct {
	Label string
	Score float64
}

// KindSpec configures one analysis kind.
type KindSpec struct {
	Kind Kind
	// Priority orders background warming; lower loads first.
	Priority int
	// EstimateBytes is the expected resident footprint once loaded.
	EstimateBytes uint64
	// Source describes where the model comes from (file path or "builtin").
	Source string
	Loader ModelLoader
	Engine InferenceEngine
}

// Options are caller-supplied analysis options. They take part in the cache
// key, so two requests differing only in options never share a result.
type Options map[string]any

// Outcome is the per-kind answer of Analyze: exactly one of Result or Err is set.
type Outcome struct {
	Result   *Result `json:"result,omitempty"`
	Err      error   `json:"-"`
	CacheHit bool    `json:"cache_hit"`
}

// SlotStatus is a read-only copy of a slot for stats and eviction decisions.
type SlotStatus struct {
	Kind                Kind
	State               State
	Priority            int
	EstimateBytes       uint64
	LoadedAt            time.Time
	LastUsedAt          time.Time
	FailedAt            time.Time
	LastError           string
	Loads               uint64
	Failures            uint64
	ConsecutiveFailures int
	Evictions           uint64
	Inflight            int
}
