package health

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/resources"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) NewTimer(d time.Duration) corectx.Timer {
	return &fakeTimer{c: make(chan time.Time, 1)}
}
func (c *fakeClock) NewTicker(d time.Duration) corectx.Ticker {
	return &fakeTicker{c: make(chan time.Time, 1)}
}
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeTimer struct{ c chan time.Time }

func (t *fakeTimer) C() <-chan time.Time        { return t.c }
func (t *fakeTimer) Reset(d time.Duration) bool { return true }
func (t *fakeTimer) Stop() bool                 { return true }

type fakeTicker struct{ c chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}

type fakeTasks struct{ ids []string }

func (f fakeTasks) ActiveTaskIDs() []string { return f.ids }

func newTestReporter(clock *fakeClock, mon *resources.Monitor, tasks TaskLister) *Reporter {
	cctx := &corectx.Context{Logger: log.New(os.Stderr, "test: ", 0), Clock: clock}
	cfg := config.HealthConfig{CheckIntervalMS: 15000}
	return New(cfg, cctx, mon, tasks)
}

func newMonitorWithFixedSnapshot(clock *fakeClock, snap resources.Snapshot) *resources.Monitor {
	mon := resources.New(config.ResourcesConfig{}, &corectx.Context{Logger: log.New(os.Stderr, "", 0), Clock: clock}, fixedGPUSource{}, fixedProcessLister{})
	mon.SetLastForTest(snap)
	return mon
}

type fixedGPUSource struct{}

func (fixedGPUSource) Snapshot() ([]resources.GPU, error) { return nil, nil }

type fixedProcessLister struct{}

func (fixedProcessLister) ProcessNames() ([]string, error) { return nil, nil }

func TestCheck_NoSnapshotYet_UnhealthyWithNoResourcesWarning(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cctx := &corectx.Context{Logger: log.New(os.Stderr, "", 0), Clock: clock}
	mon := resources.New(config.ResourcesConfig{}, cctx, fixedGPUSource{}, fixedProcessLister{})
	r := newTestReporter(clock, mon, nil)

	status := r.Check()
	if status.Healthy {
		t.Fatal("expected unhealthy before any snapshot exists")
	}
	if len(status.Issues) != 1 || status.Issues[0].Code != CodeNoResources {
		t.Fatalf("expected a single NO_RESOURCES issue, got %+v", status.Issues)
	}
}

func TestCheck_LowUsage_Healthy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{
		Timestamp: clock.now, MemUsedPct: 40, CPUUsagePct: 20, DiskUsedPct: 50,
	})
	r := newTestReporter(clock, mon, nil)

	status := r.Check()
	if !status.Healthy {
		t.Fatalf("expected healthy, got issues: %+v", status.Issues)
	}
	if len(status.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", status.Issues)
	}
}

func TestCheck_MemoryAboveWarnBelowErr_WarnOnlyStillHealthy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{Timestamp: clock.now, MemUsedPct: 92})
	r := newTestReporter(clock, mon, nil)

	status := r.Check()
	if !status.Healthy {
		t.Fatal("a warn-only issue must not flip healthy to false")
	}
	if len(status.Issues) != 1 || status.Issues[0].Code != CodeMemoryWarn || status.Issues[0].Severity != SeverityWarn {
		t.Fatalf("expected single MEMORY_WARN issue, got %+v", status.Issues)
	}
}

func TestCheck_CPUAboveErr_Unhealthy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{Timestamp: clock.now, CPUUsagePct: 99})
	r := newTestReporter(clock, mon, nil)

	status := r.Check()
	if status.Healthy {
		t.Fatal("expected unhealthy when any issue is error severity")
	}
	if len(status.Issues) != 1 || status.Issues[0].Code != CodeCPUErr {
		t.Fatalf("expected single CPU_ERR issue, got %+v", status.Issues)
	}
}

func TestCheck_DiskThresholdBoundary_ExactlyAtErrIsErr(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{Timestamp: clock.now, DiskUsedPct: 98})
	r := newTestReporter(clock, mon, nil)

	status := r.Check()
	if status.Healthy {
		t.Fatal("exactly-at-error-threshold must be treated as an error")
	}
	if status.Issues[0].Code != CodeDiskErr {
		t.Fatalf("expected DISK_ERR at the boundary, got %+v", status.Issues)
	}
}

func TestCheck_GamingDetected_WarnButStillHealthy(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{Timestamp: clock.now, GamingDetected: true, MemUsedPct: 10})
	r := newTestReporter(clock, mon, nil)

	status := r.Check()
	if !status.Healthy {
		t.Fatal("gaming activity alone must not flip healthy to false")
	}
	found := false
	for _, iss := range status.Issues {
		if iss.Code == CodeGamingActive && iss.Severity == SeverityWarn {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a GAMING_ACTIVE warning, got %+v", status.Issues)
	}
}

func TestCheck_IssuesRegeneratedFromScratchEachTick(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cctx := &corectx.Context{Logger: log.New(os.Stderr, "", 0), Clock: clock}
	mon := resources.New(config.ResourcesConfig{}, cctx, fixedGPUSource{}, fixedProcessLister{})
	mon.SetLastForTest(resources.Snapshot{Timestamp: clock.now, MemUsedPct: 96})
	r := newTestReporter(clock, mon, nil)

	first := r.Check()
	if len(first.Issues) != 1 || first.Issues[0].Code != CodeMemoryErr {
		t.Fatalf("expected MEMORY_ERR on first check, got %+v", first.Issues)
	}

	mon.SetLastForTest(resources.Snapshot{Timestamp: clock.now, MemUsedPct: 10})
	second := r.Check()
	if len(second.Issues) != 0 {
		t.Fatalf("expected issues cleared once usage drops, got %+v", second.Issues)
	}
}

func TestCheck_ActiveTasksCarriedThrough(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{Timestamp: clock.now})
	r := newTestReporter(clock, mon, fakeTasks{ids: []string{"task-a", "task-b"}})

	status := r.Check()
	if len(status.ActiveTasks) != 2 {
		t.Fatalf("expected 2 active tasks, got %v", status.ActiveTasks)
	}
}

func TestSubscribe_EmitsStatusAndIssueEvents(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	mon := newMonitorWithFixedSnapshot(clock, resources.Snapshot{Timestamp: clock.now, MemUsedPct: 99})
	r := newTestReporter(clock, mon, nil)
	ch := r.Subscribe()

	r.Check()

	var sawStatus, sawIssue bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-ch:
			switch ev.Kind {
			case EventStatus:
				sawStatus = true
			case EventIssue:
				sawIssue = true
			}
		default:
		}
	}
	if !sawStatus || !sawIssue {
		t.Fatalf("expected both a status and an issue event, got status=%v issue=%v", sawStatus, sawIssue)
	}
}
