package resources

import (
	"log"
	"os"
	"testing"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
)

type fakeProcessLister struct{ names []string }

func (f fakeProcessLister) ProcessNames() ([]string, error) { return f.names, nil }

type fakeGPUSource struct{ gpus []GPU }

func (f fakeGPUSource) Snapshot() ([]GPU, error) { return f.gpus, nil }

// fakeClock is a manual, monotonic-in-spirit clock for deterministic
// cooldown tests.
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

func (t *fakeTimer) C() <-chan time.Time      { return t.c }
func (t *fakeTimer) Reset(d time.Duration) bool { return true }
func (t *fakeTimer) Stop() bool                 { return true }

type fakeTicker struct{ c chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               {}

func newTestMonitor(processes []string, gpus []GPU, clock *fakeClock) *Monitor {
	cctx := &corectx.Context{Logger: log.New(os.Stderr, "test: ", 0), Clock: clock}
	cfg := config.ResourcesConfig{GamingCooldownMS: 30000, GamingGPUThresholdPct: 70}
	return New(cfg, cctx, fakeGPUSource{gpus: gpus}, fakeProcessLister{names: processes})
}

func TestGamingDetection_NoGamingAtLowGPU(t *testing.T) {
	m := newTestMonitor(nil, []GPU{{Index: 0, UtilPct: 10}}, &fakeClock{now: time.Unix(0, 0)})
	snap := m.Poll()
	if snap.GamingDetected {
		t.Fatal("expected no gaming detected at low GPU usage with no gaming process")
	}
}

func TestGamingDetection_ProcessNameTriggersGaming(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := newTestMonitor([]string{"steam"}, nil, clock)
	ch := m.Subscribe()

	snap := m.Poll()
	if !snap.GamingDetected {
		t.Fatal("expected gaming detected with steam process present")
	}
	select {
	case ev := <-ch:
		if ev.Kind != EventGamingStarted {
			t.Fatalf("expected gaming_started, got %v", ev.Kind)
		}
	default:
		t.Fatal("expected a gaming_started event")
	}
}

func TestGamingCooldown_HysteresisWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := newTestMonitor([]string{"steam"}, nil, clock)
	m.Poll() // gaming starts

	m.proc = fakeProcessLister{names: nil}
	snap := m.Poll() // gaming ends
	if snap.GamingDetected {
		t.Fatal("expected gaming ended")
	}
	if !m.IsInGamingCooldown() {
		t.Fatal("expected cooldown active immediately after gaming ends")
	}

	clock.Advance(29 * time.Second)
	if !m.IsInGamingCooldown() {
		t.Fatal("expected still in cooldown before 30s elapses")
	}

	clock.Advance(2 * time.Second)
	if m.IsInGamingCooldown() {
		t.Fatal("expected cooldown to have expired after 30s")
	}
}

func TestGamingDetection_IdempotentUnderRepeatedSnapshots(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := newTestMonitor([]string{"steam"}, nil, clock)
	ch := m.Subscribe()

	m.Poll()
	<-ch // gaming_started

	m.Poll()
	select {
	case ev := <-ch:
		t.Fatalf("expected no duplicate transition event, got %v", ev.Kind)
	default:
	}
}

func TestTelemetryFailure_DoesNotBreakSnapshotCadence(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	m := newTestMonitor(nil, nil, clock)
	snap := m.Poll()
	if snap.Timestamp.IsZero() {
		t.Fatal("expected a timestamped snapshot even with zeroed sub-sources")
	}
}
