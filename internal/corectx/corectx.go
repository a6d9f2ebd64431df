// Package corectx carries the ambient objects (logger, clock, config
// snapshot) that each component needs, so no component reaches for a
// process-wide singleton.
package corectx

import (
	"io"
	"log"
	"os"
	"time"
)

// Clock abstracts time so election timers and cooldown windows can be
// driven deterministically in tests. The production implementation must
// be monotonic; time.Time values returned by the Go runtime already
// carry a monotonic reading, so wrapping time.Now is sufficient.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer mirrors the subset of time.Timer used by the consensus timers.
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}

// Ticker mirrors the subset of time.Ticker used by periodic workers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the production Clock backed by the runtime's monotonic
// clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time      { return s.t.C }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
func (s *systemTimer) Stop() bool                 { return s.t.Stop() }

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// Context bundles the ambient objects passed explicitly into every
// component constructor.
type Context struct {
	Logger *log.Logger
	Clock  Clock
}

// New builds a default Context writing to stderr with a monotonic
// system clock.
func New() *Context {
	return &Context{
		Logger: log.New(os.Stderr, "cortexd: ", log.LstdFlags|log.Lmicroseconds),
		Clock:  SystemClock{},
	}
}

// NewWithWriter builds a Context whose logger fans out to w in
// addition to its usual destination, used by the daemon to tee
// startup logging into a file under the data directory for `cortex
// logs` to tail.
func NewWithWriter(w io.Writer) *Context {
	return &Context{
		Logger: log.New(io.MultiWriter(os.Stderr, w), "cortexd: ", log.LstdFlags|log.Lmicroseconds),
		Clock:  SystemClock{},
	}
}
