// Package resources implements the periodic telemetry snapshot
// producer: CPU/memory/disk/load via gopsutil, GPU telemetry via
// NVML, and a gaming-activity heuristic with hysteresis driven off a
// monotonic clock so wall-clock jumps can't corrupt the cooldown
// window.
package resources

import (
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/wire"
)

// GPU is a single GPU's telemetry (Resource Snapshot).
type GPU struct {
	Index          int
	Name           string
	MemTotalBytes  uint64
	MemFreeBytes   uint64
	UtilPct        float64
	InUseForGaming bool
}

// Snapshot is the full resource snapshot.
type Snapshot struct {
	Timestamp      time.Time
	CPUCores       int
	CPUUsagePct    float64
	LoadAvg1       float64
	LoadAvg5       float64
	LoadAvg15      float64
	MemTotalBytes  uint64
	MemAvailBytes  uint64
	MemUsedPct     float64
	DiskTotalBytes uint64
	DiskAvailBytes uint64
	DiskUsedPct    float64
	GPUs           []GPU
	GamingDetected bool
}

// ToWire projects a Snapshot onto its wire form.
func (s Snapshot) ToWire() wire.ResourceSnapshotWire {
	gpus := make([]wire.GPUWire, 0, len(s.GPUs))
	for _, g := range s.GPUs {
		gpus = append(gpus, wire.GPUWire{
			Index: g.Index, Name: g.Name, MemTotalBytes: g.MemTotalBytes,
			MemFreeBytes: g.MemFreeBytes, UtilPct: g.UtilPct, InUseForGaming: g.InUseForGaming,
		})
	}
	return wire.ResourceSnapshotWire{
		Timestamp: s.Timestamp, CPUCores: s.CPUCores, CPUUsagePct: s.CPUUsagePct,
		LoadAvg1: s.LoadAvg1, LoadAvg5: s.LoadAvg5, LoadAvg15: s.LoadAvg15,
		MemTotalBytes: s.MemTotalBytes, MemAvailBytes: s.MemAvailBytes, MemUsedPct: s.MemUsedPct,
		DiskTotalBytes: s.DiskTotalBytes, DiskAvailBytes: s.DiskAvailBytes, DiskUsedPct: s.DiskUsedPct,
		GPUs: gpus, GamingDetected: s.GamingDetected,
	}
}

// SnapshotFromWire reconstructs a Snapshot from its wire form.
func SnapshotFromWire(w wire.ResourceSnapshotWire) Snapshot {
	gpus := make([]GPU, 0, len(w.GPUs))
	for _, g := range w.GPUs {
		gpus = append(gpus, GPU{
			Index: g.Index, Name: g.Name, MemTotalBytes: g.MemTotalBytes,
			MemFreeBytes: g.MemFreeBytes, UtilPct: g.UtilPct, InUseForGaming: g.InUseForGaming,
		})
	}
	return Snapshot{
		Timestamp: w.Timestamp, CPUCores: w.CPUCores, CPUUsagePct: w.CPUUsagePct,
		LoadAvg1: w.LoadAvg1, LoadAvg5: w.LoadAvg5, LoadAvg15: w.LoadAvg15,
		MemTotalBytes: w.MemTotalBytes, MemAvailBytes: w.MemAvailBytes, MemUsedPct: w.MemUsedPct,
		DiskTotalBytes: w.DiskTotalBytes, DiskAvailBytes: w.DiskAvailBytes, DiskUsedPct: w.DiskUsedPct,
		GPUs: gpus, GamingDetected: w.GamingDetected,
	}
}

// GPUSource abstracts GPU telemetry so tests don't need real hardware
// or the NVML shared library loaded.
type GPUSource interface {
	Snapshot() ([]GPU, error)
}

// ProcessLister abstracts the running-process scan the gaming
// heuristic uses, again so tests don't depend on the real process
// table.
type ProcessLister interface {
	ProcessNames() ([]string, error)
}

// EventKind discriminates the gaming-heuristic transition events.
type EventKind string

const (
	EventGamingStarted EventKind = "gaming_started"
	EventGamingEnded   EventKind = "gaming_ended"
)

// Event is the tagged variant published on a Monitor's event stream.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
}

// Monitor polls host telemetry on an interval and tracks gaming state.
type Monitor struct {
	cfg  config.ResourcesConfig
	cctx *corectx.Context
	gpus GPUSource
	proc ProcessLister

	mu             sync.RWMutex
	last           Snapshot
	hasLast        bool
	gaming         bool
	gamingStarted  time.Time
	gamingEndedAt  time.Time
	hasGamingEnded bool

	subMu sync.Mutex
	subs  []chan Event

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Monitor. A nil gpus falls back to NVMLSource; a nil
// proc falls back to GopsutilProcessLister.
func New(cfg config.ResourcesConfig, cctx *corectx.Context, gpus GPUSource, proc ProcessLister) *Monitor {
	if cctx == nil {
		cctx = corectx.New()
	}
	if gpus == nil {
		gpus = NVMLSource{}
	}
	if proc == nil {
		proc = GopsutilProcessLister{}
	}
	return &Monitor{cfg: cfg, cctx: cctx, gpus: gpus, proc: proc, stopCh: make(chan struct{})}
}

// Subscribe returns a channel carrying gaming-heuristic transition events.
func (m *Monitor) Subscribe() <-chan Event {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	ch := make(chan Event, 16)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *Monitor) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start launches the periodic poll loop.
func (m *Monitor) Start() {
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := m.cctx.Clock.NewTicker(m.cfg.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C():
				m.Poll()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Poll produces one snapshot immediately. A single failing telemetry
// sub-source never breaks cadence: its field is zeroed and the error
// logged.
func (m *Monitor) Poll() Snapshot {
	now := m.cctx.Clock.Now()
	snap := Snapshot{Timestamp: now}

	if counts, err := cpu.Counts(true); err == nil {
		snap.CPUCores = counts
	} else {
		m.cctx.Logger.Printf("resources: cpu count failed: %v", err)
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPUUsagePct = pct[0]
	} else if err != nil {
		m.cctx.Logger.Printf("resources: cpu percent failed: %v", err)
	}
	if avg, err := load.Avg(); err == nil {
		snap.LoadAvg1, snap.LoadAvg5, snap.LoadAvg15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		m.cctx.Logger.Printf("resources: load avg failed: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemTotalBytes = vm.Total
		snap.MemAvailBytes = vm.Available
		snap.MemUsedPct = vm.UsedPercent
	} else {
		m.cctx.Logger.Printf("resources: virtual memory failed: %v", err)
	}
	if du, err := disk.Usage("/"); err == nil {
		snap.DiskTotalBytes = du.Total
		snap.DiskAvailBytes = du.Free
		snap.DiskUsedPct = du.UsedPercent
	} else {
		m.cctx.Logger.Printf("resources: disk usage failed: %v", err)
	}
	if gpus, err := m.gpus.Snapshot(); err == nil {
		snap.GPUs = gpus
	} else {
		m.cctx.Logger.Printf("resources: gpu telemetry failed: %v", err)
	}

	names, err := m.proc.ProcessNames()
	if err != nil {
		m.cctx.Logger.Printf("resources: process list failed: %v", err)
	}
	snap.GamingDetected = m.isGamingPositive(names, snap.GPUs)

	m.mu.Lock()
	prevGaming := m.gaming
	m.last = snap
	m.hasLast = true
	switch {
	case !prevGaming && snap.GamingDetected:
		m.gaming = true
		m.gamingStarted = now
		m.mu.Unlock()
		m.publish(Event{Kind: EventGamingStarted, Timestamp: now})
	case prevGaming && !snap.GamingDetected:
		m.gaming = false
		m.gamingEndedAt = now
		m.hasGamingEnded = true
		m.mu.Unlock()
		m.publish(Event{Kind: EventGamingEnded, Timestamp: now})
	default:
		m.mu.Unlock()
	}

	return snap
}

func (m *Monitor) isGamingPositive(processNames []string, gpus []GPU) bool {
	threshold := m.cfg.GamingThreshold()
	for _, want := range m.cfg.GamingProcessSet() {
		want = strings.ToLower(want)
		for _, name := range processNames {
			if strings.Contains(strings.ToLower(name), want) {
				return true
			}
		}
	}
	for i := range gpus {
		if gpus[i].UtilPct >= threshold {
			gpus[i].InUseForGaming = true
			return true
		}
	}
	return false
}

// Last returns the most recent snapshot and whether one exists yet.
func (m *Monitor) Last() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.hasLast
}

// SetLastForTest injects a snapshot directly, bypassing Poll. Exported
// for use by other packages' tests (e.g. health) that need a Monitor
// with a known snapshot without exercising gopsutil.
func (m *Monitor) SetLastForTest(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = snap
	m.hasLast = true
}

// IsInGamingCooldown reports whether gaming ended within the last
// gamingCooldownMs, measured using the monotonic clock reading
// embedded in time.Time so wall-clock adjustments can't shorten it.
func (m *Monitor) IsInGamingCooldown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.gaming || !m.hasGamingEnded {
		return false
	}
	return m.cctx.Clock.Now().Sub(m.gamingEndedAt) < m.cfg.GamingCooldown()
}

// GopsutilProcessLister lists running process names via gopsutil.
type GopsutilProcessLister struct{}

func (GopsutilProcessLister) ProcessNames() ([]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		if name, err := p.Name(); err == nil {
			names = append(names, name)
		}
	}
	return names, nil
}
