// Package manager keeps a set of text-classification engines resident under a
// memory budget and serves analysis requests through a bounded result cache.
// It is structured into small files by concern:
//
//   - manager.go: Manager type, constructor, lifecycle (Start/Shutdown) and admin ops.
//   - config.go: Config and package defaults; New applies defaults.
//   - kind.go: the closed Kind enum and parsing.
//   - types.go: loader/engine interfaces, KindSpec, Outcome, SlotStatus.
//   - errors.go: error types and helpers (IsCapacityExceeded, IsNotReady, ErrorCode).
//   - slot.go / registry.go: per-kind state machine and single-flight loading.
//   - evict.go: eviction policy, admission and the periodic pressure check.
//   - loader.go: BackgroundLoader warming kinds in priority order.
//   - analyze.go: Analyze entry point with per-kind partial failure.
//   - bulk.go: AnalyzeBulk over a batch of texts.
//   - interpret.go / normalize.go: result interpretation and input normalization.
//   - stats.go: Stats reporting for /stats.
//
// Engines are plugged in through ModelLoader and InferenceEngine; see
// internal/engine for the lexicon and llama implementations.
package manager
