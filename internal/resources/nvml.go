package resources

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLSource reads GPU telemetry via NVIDIA's NVML bindings. Snapshot
// has a value receiver, so the sync.Once belongs to a per-call copy:
// nvml.Init is attempted on every Snapshot call and its result is not
// cached across calls. On a machine with no NVIDIA driver present, Snapshot returns an empty slice and
// an error, which Monitor.Poll logs and defaults without breaking
// snapshot cadence.
type NVMLSource struct {
	once    sync.Once
	initErr error
}

func (n *NVMLSource) ensureInit() error {
	n.once.Do(func() {
		if ret := nvml.Init(); ret != nvml.SUCCESS {
			n.initErr = fmt.Errorf("nvml init: %v", nvml.ErrorString(ret))
		}
	})
	return n.initErr
}

func (n NVMLSource) Snapshot() ([]GPU, error) {
	if err := n.ensureInit(); err != nil {
		return nil, err
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %v", nvml.ErrorString(ret))
	}

	gpus := make([]GPU, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		name, _ := dev.GetName()
		mem, ret := dev.GetMemoryInfo()
		if ret != nvml.SUCCESS {
			continue
		}
		util, ret := dev.GetUtilizationRates()
		utilPct := float64(0)
		if ret == nvml.SUCCESS {
			utilPct = float64(util.Gpu)
		}
		gpus = append(gpus, GPU{
			Index:         i,
			Name:          name,
			MemTotalBytes: mem.Total,
			MemFreeBytes:  mem.Free,
			UtilPct:       utilPct,
		})
	}
	return gpus, nil
}

// NoGPUSource is a GPUSource that always reports no GPUs present,
// used on machines or in tests with no NVIDIA hardware.
type NoGPUSource struct{}

func (NoGPUSource) Snapshot() ([]GPU, error) { return nil, nil }
