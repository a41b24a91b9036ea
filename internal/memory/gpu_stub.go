//go:build !cuda

package memory

import "errors"

// ErrGPUUnavailable is returned when the binary was built without NVML support.
var ErrGPUUnavailable = errors.New("gpu memory source not built (missing 'cuda' build tag)")

// GPUQuery is a placeholder so callers compile without the cuda tag.
type GPUQuery struct{}

// NewGPUQuery always fails in builds without the cuda tag.
func NewGPUQuery(index int) (*GPUQuery, error) { return nil, ErrGPUUnavailable }

func (*GPUQuery) CurrentUsageBytes() (uint64, error) { return 0, ErrGPUUnavailable }

func (*GPUQuery) Close() error { return nil }
