// Package memory reads current memory usage and compares it with a budget.
//
// Sources:
//
//   - rss: resident set size of this process from /proc (prometheus/procfs).
//   - runtime: memory obtained from the OS by the Go runtime.
//   - estimate: a caller-supplied sum, e.g. the estimates of loaded engines.
//   - gpu: used device memory via NVML. Enabled with `-tags=cuda`; a stub
//     returning ErrGPUUnavailable is compiled otherwise.
package memory

import (
	"errors"
	"fmt"
	"runtime"
)

// Query returns a fresh memory reading in bytes. Implementations must not cache.
type Query interface {
	CurrentUsageBytes() (uint64, error)
}

// QueryFunc adapts a function to Query.
type QueryFunc func() (uint64, error)

func (f QueryFunc) CurrentUsageBytes() (uint64, error) { return f() }

// Source names accepted by configuration.
const (
	SourceRSS      = "rss"
	SourceRuntime  = "runtime"
	SourceEstimate = "estimate"
	SourceGPU      = "gpu"
)

// RuntimeQuery reports memory the Go runtime holds from the OS minus what it
// has already returned. Works on every platform.
type RuntimeQuery struct{}

func (RuntimeQuery) CurrentUsageBytes() (uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys - ms.HeapReleased, nil
}

// Fallback tries each query in order and returns the first successful reading.
func Fallback(qs ...Query) Query {
	return QueryFunc(func() (uint64, error) {
		var errs []error
		for _, q := range qs {
			if q == nil {
				continue
			}
			v, err := q.CurrentUsageBytes()
			if err == nil {
				return v, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return 0, errors.New("no memory query configured")
		}
		return 0, errors.Join(errs...)
	})
}

// Monitor compares readings against a fixed limit. A zero limit means unlimited.
type Monitor struct {
	q     Query
	limit uint64
}

// NewMonitor constructs a Monitor. A nil query falls back to RuntimeQuery.
func NewMonitor(q Query, limitBytes uint64) *Monitor {
	if q == nil {
		q = RuntimeQuery{}
	}
	return &Monitor{q: q, limit: limitBytes}
}

// Limit returns the configured budget in bytes (0 = unlimited).
func (m *Monitor) Limit() uint64 { return m.limit }

// Unlimited reports whether no budget is enforced.
func (m *Monitor) Unlimited() bool { return m.limit == 0 }

// CurrentUsageBytes always queries the underlying source.
func (m *Monitor) CurrentUsageBytes() (uint64, error) {
	v, err := m.q.CurrentUsageBytes()
	if err != nil {
		return 0, fmt.Errorf("memory query: %w", err)
	}
	return v, nil
}

// OverBudget reports usage > limit together with the reading it used.
func (m *Monitor) OverBudget() (bool, uint64, error) {
	usage, err := m.CurrentUsageBytes()
	if err != nil {
		return false, 0, err
	}
	if m.Unlimited() {
		return false, usage, nil
	}
	return usage > m.limit, usage, nil
}

// Fits reports whether usage plus extra stays within the limit.
func (m *Monitor) Fits(extra uint64) (bool, uint64, error) {
	usage, err := m.CurrentUsageBytes()
	if err != nil {
		return false, 0, err
	}
	if m.Unlimited() {
		return true, usage, nil
	}
	return usage+extra <= m.limit, usage, nil
}
