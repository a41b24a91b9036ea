//go:build cuda

package memory

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// GPUQuery reports used memory on one NVIDIA device.
type GPUQuery struct {
	mu     sync.Mutex
	device nvml.Device
	index  int
}

// NewGPUQuery initializes NVML and binds to the device at index.
// Call Close to shut NVML down.
func NewGPUQuery(index int) (*GPUQuery, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		_ = nvml.Shutdown()
		return nil, fmt.Errorf("nvml device %d: %s", index, nvml.ErrorString(ret))
	}
	return &GPUQuery{device: dev, index: index}, nil
}

func (q *GPUQuery) CurrentUsageBytes() (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mem, ret := q.device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("nvml memory info device %d: %s", q.index, nvml.ErrorString(ret))
	}
	return mem.Used, nil
}

// Close releases NVML.
func (q *GPUQuery) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}
