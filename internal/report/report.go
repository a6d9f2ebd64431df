// Package report implements the node-report pipeline.
// every reportIntervalMs this node collects (health, resources) and
// either applies the result locally (if leader) or forwards it to the
// current leader over gRPC (if follower). The leader side also serves
// ClusterService's ReportHealth RPC, coalescing by keeping only the
// latest report per node compared by timestamp.
package report

import (
	"context"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/health"
	"github.com/cortexhq/cortexd/internal/membership"
	"github.com/cortexhq/cortexd/internal/resources"
	"github.com/cortexhq/cortexd/internal/transport"
	"github.com/cortexhq/cortexd/internal/wire"
)

// EndpointResolver maps a node ID to its gRPC endpoint, so the
// pipeline can find the current leader without importing discovery or
// membership concretely on the client path.
type EndpointResolver interface {
	Endpoint(nodeID string) (string, bool)
}

// RosterEndpointResolver adapts a membership.Roster to EndpointResolver.
type RosterEndpointResolver struct {
	Roster *membership.Roster
}

func (r RosterEndpointResolver) Endpoint(nodeID string) (string, bool) {
	n, ok := r.Roster.GetNode(nodeID)
	if !ok || n.GRPCEndpoint == "" {
		return "", false
	}
	return n.GRPCEndpoint, true
}

// Pipeline drives the periodic (health, resources) report cycle.
type Pipeline struct {
	cfg       config.ReportConfig
	cctx      *corectx.Context
	nodeID    string
	proposer  consensus.Proposer
	health    *health.Reporter
	resources *resources.Monitor
	roster    *membership.Roster
	pool      *transport.Pool
	resolver  EndpointResolver

	mu           sync.RWMutex
	lastHealth   map[string]wire.HealthStatusWire
	lastTS       map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Pipeline.
func New(cfg config.ReportConfig, cctx *corectx.Context, nodeID string, proposer consensus.Proposer, h *health.Reporter, mon *resources.Monitor, roster *membership.Roster, pool *transport.Pool, resolver EndpointResolver) *Pipeline {
	if cctx == nil {
		cctx = corectx.New()
	}
	return &Pipeline{
		cfg: cfg, cctx: cctx, nodeID: nodeID, proposer: proposer,
		health: h, resources: mon, roster: roster, pool: pool, resolver: resolver,
		lastHealth: make(map[string]wire.HealthStatusWire),
		lastTS:     make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic report loop.
func (p *Pipeline) Start() {
	p.stopCh = make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := p.cctx.Clock.NewTicker(p.cfg.Interval())
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C():
				p.Tick()
			}
		}
	}()
}

func (p *Pipeline) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Tick collects the current (health, resources) pair and either
// applies it locally (leader) or forwards it to the current leader
// (follower). Called on each reportIntervalMs tick, or directly by
// tests.
func (p *Pipeline) Tick() {
	hs := p.health.Last()
	snap, hasSnap := p.resources.Last()
	if !hasSnap {
		return
	}

	if p.proposer.IsLeader() {
		p.recordLocally(p.nodeID, hs, snap)
		return
	}

	leaderID := p.proposer.GetLeaderID()
	if leaderID == "" {
		p.cctx.Logger.Printf("report: no known leader, dropping this tick's report")
		return
	}
	endpoint, ok := p.resolver.Endpoint(leaderID)
	if !ok {
		p.cctx.Logger.Printf("report: no endpoint known for leader %s", leaderID)
		return
	}

	req := &wire.ReportHealthRequest{
		NodeID:    p.nodeID,
		Health:    hs.ToWire(),
		Resources: snapshotToWire(snap),
	}
	resp := &wire.ReportHealthResponse{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.pool.Call(ctx, endpoint, transport.MethodReportHealth, req, resp, 5*time.Second); err != nil {
		p.cctx.Logger.Printf("report: sending ReportHealth to leader %s failed: %v", leaderID, err)
		return
	}
	if !resp.Accepted {
		p.cctx.Logger.Printf("report: leader rejected report: %s", resp.Error)
	}
}

// ReportHealth serves ClusterService's ReportHealth RPC on the leader
// side. Reports are coalesced by keeping only the latest per node,
// compared by the resource snapshot's timestamp; stale reports
// (timestamp no later than the one already on file) are discarded
// without error.
func (p *Pipeline) ReportHealth(ctx context.Context, req *wire.ReportHealthRequest) (*wire.ReportHealthResponse, error) {
	if !p.proposer.IsLeader() {
		return &wire.ReportHealthResponse{Accepted: false, Error: "not leader, report must go to the current leader"}, nil
	}

	p.mu.Lock()
	prevTS, seen := p.lastTS[req.NodeID]
	if seen && !req.Resources.Timestamp.After(prevTS) {
		p.mu.Unlock()
		return &wire.ReportHealthResponse{Accepted: false, Error: "stale report discarded"}, nil
	}
	p.lastTS[req.NodeID] = req.Resources.Timestamp
	p.lastHealth[req.NodeID] = req.Health
	p.mu.Unlock()

	p.recordLocally(req.NodeID, statusFromWire(req.Health), snapshotFromWire(req.Resources))
	return &wire.ReportHealthResponse{Accepted: true}, nil
}

func (p *Pipeline) recordLocally(nodeID string, hs health.Status, snap resources.Snapshot) {
	p.mu.Lock()
	p.lastHealth[nodeID] = hs.ToWire()
	p.lastTS[nodeID] = snap.Timestamp
	p.mu.Unlock()

	if err := p.roster.UpdateResources(nodeID, snap); err != nil {
		p.cctx.Logger.Printf("report: updating roster resources for %s failed: %v", nodeID, err)
	}
}

// LastHealth returns the most recently recorded health status for a
// node, as seen by this node's leader-side coalescing.
func (p *Pipeline) LastHealth(nodeID string) (wire.HealthStatusWire, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hs, ok := p.lastHealth[nodeID]
	return hs, ok
}

func snapshotToWire(s resources.Snapshot) wire.ResourceSnapshotWire {
	return s.ToWire()
}

func snapshotFromWire(w wire.ResourceSnapshotWire) resources.Snapshot {
	return resources.SnapshotFromWire(w)
}

func statusFromWire(w wire.HealthStatusWire) health.Status {
	issues := make([]health.Issue, 0, len(w.Issues))
	for _, iss := range w.Issues {
		issues = append(issues, health.Issue{
			Severity: health.Severity(iss.Severity), Code: iss.Code, Message: iss.Message, Timestamp: iss.Timestamp,
		})
	}
	return health.Status{
		Healthy: w.Healthy, Message: w.Message, LastCheck: w.LastCheck,
		UptimeSec: w.UptimeSec, ActiveTasks: w.ActiveTasks, Issues: issues,
	}
}
