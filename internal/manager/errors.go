package manager

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidText is returned when the input is empty after normalization or too long.
	ErrInvalidText = errors.New("invalid text")
	// ErrNoKinds is returned when Analyze is called without any kinds.
	ErrNoKinds = errors.New("no kinds requested")
	// ErrShuttingDown is returned once Shutdown has started.
	ErrShuttingDown = errors.New("manager is shutting down")
	// ErrNotLoaded is returned by Evict for a slot that holds no engine.
	ErrNotLoaded = errors.New("kind not loaded")
	// ErrSlotBusy is returned by Evict while requests still hold the engine.
	ErrSlotBusy = errors.New("kind has in-flight requests")
)

// UnknownKindError signals a kind name that does not parse or is not configured.
type UnknownKindError struct{ Name string }

func (e UnknownKindError) Error() string { return "unknown kind: " + e.Name }

// IsUnknownKind reports whether err indicates an unknown or unconfigured kind.
func IsUnknownKind(err error) bool {
	var e UnknownKindError
	return errors.As(err, &e)
}

// LoadFailureError records an engine that failed to initialize. RetryAt is the
// earliest time another load attempt is made.
type LoadFailureError struct {
	Kind    Kind
	Err     error
	RetryAt time.Time
}

func (e *LoadFailureError) Error() string {
	return fmt.Sprintf("load %s failed: %v", e.Kind, e.Err)
}

func (e *LoadFailureError) Unwrap() error { return e.Err }

// IsLoadFailure reports whether err is a LoadFailureError.
func IsLoadFailure(err error) bool {
	var e *LoadFailureError
	return errors.As(err, &e)
}

// CapacityExceededError is returned when a kind cannot be loaded without going
// over the memory budget, even after evicting every eligible candidate.
type CapacityExceededError struct {
	Kind       Kind
	NeedBytes  uint64
	UsageBytes uint64
	LimitBytes uint64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded for %s: need=%d usage=%d limit=%d", e.Kind, e.NeedBytes, e.UsageBytes, e.LimitBytes)
}

// IsCapacityExceeded reports whether err is a CapacityExceededError.
func IsCapacityExceeded(err error) bool {
	var e *CapacityExceededError
	return errors.As(err, &e)
}

// NotReadyError is returned when the caller's deadline elapsed while waiting
// on an in-flight load. The load itself keeps running.
type NotReadyError struct {
	Kind Kind
	Err  error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s not ready: %v", e.Kind, e.Err)
}

func (e *NotReadyError) Unwrap() error { return e.Err }

// IsNotReady reports whether err is a NotReadyError.
func IsNotReady(err error) bool {
	var e *NotReadyError
	return errors.As(err, &e)
}

// InferenceError wraps an engine failure for one input. It is never cached.
type InferenceError struct {
	Kind Kind
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s failed: %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsInferenceFailure reports whether err is an InferenceError.
func IsInferenceFailure(err error) bool {
	var e *InferenceError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals a missing engine runtime (e.g., llama.cpp
// not compiled in) so the HTTP layer can return 503 instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime dependency.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// ErrorCode maps a per-kind error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCapacityExceeded(err):
		return "capacity_exceeded"
	case IsNotReady(err):
		return "not_ready"
	case IsInferenceFailure(err):
		return "inference_failure"
	case IsLoadFailure(err):
		return "load_failure"
	case IsUnknownKind(err):
		return "unknown_kind"
	case errors.Is(err, ErrShuttingDown):
		return "shutting_down"
	case errors.Is(err, ErrInvalidText):
		return "invalid_text"
	default:
		return "internal"
	}
}
