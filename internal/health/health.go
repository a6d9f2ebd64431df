// Package health derives healthy/degraded/unhealthy status from
// resource snapshots and the running-task set. The issue list is
// regenerated from scratch every tick; nothing accumulates across
// ticks.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/resources"
	"github.com/cortexhq/cortexd/internal/telemetry"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Severity is one of warn or err.
type Severity string

const (
	SeverityWarn Severity = "warn"
	SeverityErr  Severity = "err"
)

// Issue codes.
const (
	CodeNoResources  = "NO_RESOURCES"
	CodeGamingActive = "GAMING_ACTIVE"
	CodeMemoryWarn   = "MEMORY_WARN"
	CodeMemoryErr    = "MEMORY_ERR"
	CodeCPUWarn      = "CPU_WARN"
	CodeCPUErr       = "CPU_ERR"
	CodeDiskWarn     = "DISK_WARN"
	CodeDiskErr      = "DISK_ERR"
)

// Issue is a single health issue.
type Issue struct {
	Severity  Severity
	Code      string
	Message   string
	Timestamp time.Time
}

// Status is the derived health status. Recomputed every tick, never
// merged with the previous tick's value.
type Status struct {
	Healthy     bool
	Message     string
	LastCheck   time.Time
	UptimeSec   int64
	ActiveTasks []string
	Issues      []Issue
}

// ToWire maps Status to its wire projection.
func (s Status) ToWire() wire.HealthStatusWire {
	issues := make([]wire.IssueWire, 0, len(s.Issues))
	for _, iss := range s.Issues {
		issues = append(issues, wire.IssueWire{
			Severity:  string(iss.Severity),
			Code:      iss.Code,
			Message:   iss.Message,
			Timestamp: iss.Timestamp,
		})
	}
	return wire.HealthStatusWire{
		Healthy:     s.Healthy,
		Message:     s.Message,
		LastCheck:   s.LastCheck,
		UptimeSec:   s.UptimeSec,
		ActiveTasks: s.ActiveTasks,
		Issues:      issues,
	}
}

// EventKind discriminates events on a Reporter's event stream.
type EventKind string

const (
	EventStatus EventKind = "status"
	EventIssue  EventKind = "issue"
)

// Event is the tagged variant published on a Reporter's event stream.
type Event struct {
	Kind   EventKind
	Status Status
	Issue  Issue
}

// TaskLister supplies the workload layer's currently-active task IDs;
// the core only reads this set, it never owns task execution.
type TaskLister interface {
	ActiveTaskIDs() []string
}

// NoTasks is a TaskLister with no active tasks, used when the
// workload layer is absent (e.g. an mcp-only node).
type NoTasks struct{}

func (NoTasks) ActiveTaskIDs() []string { return nil }

// Reporter derives and publishes this node's health status.
type Reporter struct {
	cfg       config.HealthConfig
	cctx      *corectx.Context
	resources *resources.Monitor
	tasks     TaskLister
	startedAt time.Time

	mu   sync.RWMutex
	last Status

	subMu sync.Mutex
	subs  []chan Event

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Reporter. A nil tasks falls back to NoTasks.
func New(cfg config.HealthConfig, cctx *corectx.Context, mon *resources.Monitor, tasks TaskLister) *Reporter {
	if cctx == nil {
		cctx = corectx.New()
	}
	if tasks == nil {
		tasks = NoTasks{}
	}
	return &Reporter{
		cfg:       cfg,
		cctx:      cctx,
		resources: mon,
		tasks:     tasks,
		startedAt: cctx.Clock.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Subscribe returns a channel carrying status and issue events.
func (r *Reporter) Subscribe() <-chan Event {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	ch := make(chan Event, 32)
	r.subs = append(r.subs, ch)
	return ch
}

func (r *Reporter) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start launches the periodic check loop.
func (r *Reporter) Start() {
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := r.cctx.Clock.NewTicker(r.cfg.CheckInterval())
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C():
				r.Check()
			}
		}
	}()
}

func (r *Reporter) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Check recomputes health status from scratch and returns it. Issues
// are regenerated every tick, never accumulated.
func (r *Reporter) Check() Status {
	now := r.cctx.Clock.Now()
	thresholds := r.cfg.Thresholds.WithDefaults()
	tasks := r.tasks.ActiveTaskIDs()

	var issues []Issue
	snap, ok := r.resources.Last()
	if !ok {
		issues = append(issues, Issue{
			Severity:  SeverityWarn,
			Code:      CodeNoResources,
			Message:   "no resource snapshot collected yet",
			Timestamp: now,
		})
	} else {
		if snap.GamingDetected {
			issues = append(issues, Issue{
				Severity:  SeverityWarn,
				Code:      CodeGamingActive,
				Message:   "gaming activity detected, node deprioritized for scheduling",
				Timestamp: now,
			})
		}
		issues = append(issues, thresholdIssues(now, thresholds, snap)...)
	}

	healthy := ok
	for _, iss := range issues {
		if iss.Severity == SeverityErr {
			healthy = false
		}
	}

	status := Status{
		Healthy:     healthy,
		Message:     summarize(healthy, issues),
		LastCheck:   now,
		UptimeSec:   int64(now.Sub(r.startedAt).Seconds()),
		ActiveTasks: tasks,
		Issues:      issues,
	}

	r.mu.Lock()
	r.last = status
	r.mu.Unlock()

	if healthy {
		telemetry.HealthStatus.Set(1)
	} else {
		telemetry.HealthStatus.Set(0)
	}

	r.publish(Event{Kind: EventStatus, Status: status})
	for _, iss := range issues {
		r.publish(Event{Kind: EventIssue, Status: status, Issue: iss})
	}

	return status
}

func thresholdIssues(now time.Time, t config.HealthThresholds, snap resources.Snapshot) []Issue {
	var issues []Issue
	switch {
	case snap.MemUsedPct >= t.MemErrPct:
		issues = append(issues, Issue{SeverityErr, CodeMemoryErr, fmt.Sprintf("memory usage %.1f%% at or above error threshold %.1f%%", snap.MemUsedPct, t.MemErrPct), now})
	case snap.MemUsedPct >= t.MemWarnPct:
		issues = append(issues, Issue{SeverityWarn, CodeMemoryWarn, fmt.Sprintf("memory usage %.1f%% at or above warn threshold %.1f%%", snap.MemUsedPct, t.MemWarnPct), now})
	}
	switch {
	case snap.CPUUsagePct >= t.CPUErrPct:
		issues = append(issues, Issue{SeverityErr, CodeCPUErr, fmt.Sprintf("cpu usage %.1f%% at or above error threshold %.1f%%", snap.CPUUsagePct, t.CPUErrPct), now})
	case snap.CPUUsagePct >= t.CPUWarnPct:
		issues = append(issues, Issue{SeverityWarn, CodeCPUWarn, fmt.Sprintf("cpu usage %.1f%% at or above warn threshold %.1f%%", snap.CPUUsagePct, t.CPUWarnPct), now})
	}
	switch {
	case snap.DiskUsedPct >= t.DiskErrPct:
		issues = append(issues, Issue{SeverityErr, CodeDiskErr, fmt.Sprintf("disk usage %.1f%% at or above error threshold %.1f%%", snap.DiskUsedPct, t.DiskErrPct), now})
	case snap.DiskUsedPct >= t.DiskWarnPct:
		issues = append(issues, Issue{SeverityWarn, CodeDiskWarn, fmt.Sprintf("disk usage %.1f%% at or above warn threshold %.1f%%", snap.DiskUsedPct, t.DiskWarnPct), now})
	}
	return issues
}

func summarize(healthy bool, issues []Issue) string {
	if healthy && len(issues) == 0 {
		return "ok"
	}
	if healthy {
		return fmt.Sprintf("ok with %d warning(s)", len(issues))
	}
	return fmt.Sprintf("unhealthy: %d issue(s)", len(issues))
}

// Last returns the most recently computed status, or the zero Status
// with Healthy=false before the first Check.
func (r *Reporter) Last() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
