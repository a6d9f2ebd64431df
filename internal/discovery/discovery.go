// Package discovery polls the mesh-VPN control plane for peer status
// and emits diff-based events. It shells out to a mesh CLI tool and
// parses the captured stdout, the same pattern used to probe other
// external tools elsewhere in this tree — there is no Go client
// library for the mesh control plane, so exec.Command is the
// idiomatic choice rather than an invented SDK dependency.
package discovery

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/telemetry"
)

// MeshPeer is the shape returned by the mesh CLI's status query for a
// single peer (self or remote); it feeds the fields of this poller's
// own Record.
type MeshPeer struct {
	ID       string    `json:"id"`
	Hostname string    `json:"hostname"`
	IPs      []string  `json:"ips"`
	Online   bool      `json:"online"`
	Tags     []string  `json:"tags"`
	LastSeen time.Time `json:"lastSeen"`
	Self     bool      `json:"self"`
}

// MeshView is the full poll result: self plus every other peer the
// mesh control plane currently knows about.
type MeshView struct {
	Peers []MeshPeer `json:"peers"`
}

// MeshQuerier obtains the current mesh view. The production
// implementation shells out to the configured mesh CLI; tests supply
// fixture polls directly instead.
type MeshQuerier interface {
	Query() (MeshView, error)
}

// CLIQuerier runs an external mesh CLI tool and parses its JSON
// status output, e.g. `tailscale status --json`.
type CLIQuerier struct {
	Command string
	Args    []string
}

func (c CLIQuerier) Query() (MeshView, error) {
	cmd := exec.Command(c.Command, c.Args...)
	out, err := cmd.Output()
	if err != nil {
		return MeshView{}, fmt.Errorf("discovery: mesh query failed: %w", err)
	}
	var view MeshView
	if err := json.Unmarshal(out, &view); err != nil {
		return MeshView{}, fmt.Errorf("discovery: parse mesh status: %w", err)
	}
	return view, nil
}

// EventKind discriminates the variants on a Poller's event stream.
type EventKind string

const (
	EventNodeDiscovered EventKind = "nodeDiscovered"
	EventNodeOnline     EventKind = "nodeOnline"
	EventNodeOffline    EventKind = "nodeOffline"
	EventNodeRemoved    EventKind = "nodeRemoved"
	EventError          EventKind = "error"
)

// Event is the tagged variant published by a Poller.
type Event struct {
	Kind EventKind
	Peer MeshPeer
	Err  error
}

// Record is this component's in-memory view of a peer.
type Record struct {
	NodeID   string
	Hostname string
	MeshIP   string
	Online   bool
	LastSeen time.Time
	Tags     []string
}

// Poller runs periodic mesh polling, cluster-tag filtering,
// diff-based event emission, and a case-insensitive hostname resolver.
type Poller struct {
	cfg     config.DiscoveryConfig
	cctx    *corectx.Context
	querier MeshQuerier

	mu      sync.RWMutex
	roster  map[string]Record
	selfID  string

	subMu sync.Mutex
	subs  []chan Event

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Poller. If querier is nil, a CLIQuerier is built
// from cfg.MeshCommand/MeshArgs.
func New(cfg config.DiscoveryConfig, cctx *corectx.Context, selfID string, querier MeshQuerier) *Poller {
	if cctx == nil {
		cctx = corectx.New()
	}
	if querier == nil {
		querier = CLIQuerier{Command: cfg.MeshCommand, Args: cfg.MeshArgs}
	}
	return &Poller{
		cfg:     cfg,
		cctx:    cctx,
		querier: querier,
		selfID:  selfID,
		roster:  make(map[string]Record),
		stopCh:  make(chan struct{}),
	}
}

// Subscribe returns a channel carrying every future discovery Event.
func (p *Poller) Subscribe() <-chan Event {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	ch := make(chan Event, 64)
	p.subs = append(p.subs, ch)
	return ch
}

func (p *Poller) publish(ev Event) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Start launches the periodic poll loop.
func (p *Poller) Start() {
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := p.cctx.Clock.NewTicker(p.cfg.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C():
				p.poll()
			}
		}
	}()
}

// Stop halts the poll loop.
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Poll runs one polling pass immediately; Start's ticker calls this on
// its own cadence, but tests and callers may also invoke it directly
// with fixture-backed queriers.
func (p *Poller) Poll() { p.poll() }

func (p *Poller) poll() {
	view, err := p.querier.Query()
	if err != nil {
		p.cctx.Logger.Printf("discovery: poll error: %v", err)
		p.publish(Event{Kind: EventError, Err: err})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(view.Peers))
	for _, mp := range view.Peers {
		if mp.Self || mp.ID == p.selfID {
			continue
		}
		if !hasTag(mp.Tags, p.cfg.ClusterTag) {
			continue
		}
		seen[mp.ID] = true

		prev, existed := p.roster[mp.ID]
		rec := Record{
			NodeID: mp.ID, Hostname: mp.Hostname, Online: mp.Online,
			LastSeen: mp.LastSeen, Tags: mp.Tags,
		}
		if len(mp.IPs) > 0 {
			rec.MeshIP = mp.IPs[0]
		}
		p.roster[mp.ID] = rec

		switch {
		case !existed:
			telemetry.DiscoveryEventsTotal.WithLabelValues(string(EventNodeDiscovered)).Inc()
			p.publish(Event{Kind: EventNodeDiscovered, Peer: mp})
			if mp.Online {
				telemetry.DiscoveryEventsTotal.WithLabelValues(string(EventNodeOnline)).Inc()
				p.publish(Event{Kind: EventNodeOnline, Peer: mp})
			}
		case !prev.Online && mp.Online:
			telemetry.DiscoveryEventsTotal.WithLabelValues(string(EventNodeOnline)).Inc()
			p.publish(Event{Kind: EventNodeOnline, Peer: mp})
		case prev.Online && !mp.Online:
			telemetry.DiscoveryEventsTotal.WithLabelValues(string(EventNodeOffline)).Inc()
			p.publish(Event{Kind: EventNodeOffline, Peer: mp})
		}
	}

	for id, rec := range p.roster {
		if !seen[id] {
			delete(p.roster, id)
			telemetry.DiscoveryEventsTotal.WithLabelValues(string(EventNodeRemoved)).Inc()
			p.publish(Event{Kind: EventNodeRemoved, Peer: MeshPeer{ID: rec.NodeID, Hostname: rec.Hostname}})
		}
	}
}

func hasTag(tags []string, want string) bool {
	if want == "" {
		return true
	}
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// GetClusterNodes returns the current roster snapshot.
func (p *Poller) GetClusterNodes() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, 0, len(p.roster))
	for _, rec := range p.roster {
		out = append(out, rec)
	}
	return out
}

// ResolveHostname is a case-insensitive lookup by hostname, returning
// (Record, true) or the zero Record and false when unknown.
func (p *Poller) ResolveHostname(name string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lower := strings.ToLower(name)
	for _, rec := range p.roster {
		if strings.ToLower(rec.Hostname) == lower {
			return rec, true
		}
	}
	return Record{}, false
}
