// Package membership maintains the cluster roster: node lifecycle
// (pending/active/draining/drained/gone), leader-only mutation
// discipline via consensus.Proposer, and reconciliation with
// discovery events. The roster itself is updated only from inside the
// consensus apply loop, so every mutating method here is called
// from consensus.ApplyFunc and must never call back into the Node.
package membership

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/discovery"
	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/resources"
	"github.com/cortexhq/cortexd/internal/telemetry"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Status is a node's lifecycle status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusDraining Status = "draining"
	StatusDrained  Status = "drained"
	StatusGone     Status = "gone"
)

// forward is the set of non-decreasing transitions allowed; no
// operation moves a node back to an earlier status.
var forward = map[Status]map[Status]bool{
	StatusPending:  {StatusActive: true, StatusGone: true},
	StatusActive:   {StatusDraining: true, StatusGone: true},
	StatusDraining: {StatusDrained: true, StatusGone: true},
	StatusDrained:  {StatusGone: true},
	StatusGone:     {},
}

// Node is a single roster entry.
type Node struct {
	NodeID       string
	Hostname     string
	MeshIP       string
	Status       Status
	Role         string
	JoinedAt     time.Time
	GRPCEndpoint string
	LastSeen     time.Time
	Resources    *resources.Snapshot
}

func (n Node) ToWire() wire.NodeInfoWire {
	out := wire.NodeInfoWire{
		NodeID:       n.NodeID,
		Hostname:     n.Hostname,
		MeshIP:       n.MeshIP,
		Status:       string(n.Status),
		Role:         n.Role,
		JoinedAt:     n.JoinedAt,
		GRPCEndpoint: n.GRPCEndpoint,
	}
	if n.Resources != nil {
		snap := n.Resources.ToWire()
		out.Resources = &snap
	}
	return out
}

// OpKind discriminates the payload of a raftlog.EntryMembership entry.
type OpKind string

const (
	OpJoin            OpKind = "join"
	OpApprove         OpKind = "approve"
	OpDrain           OpKind = "drain"
	OpMarkDrained     OpKind = "markDrained"
	OpLeave           OpKind = "leave"
	OpUpdateResources OpKind = "updateResources"
)

// Op is the JSON payload carried by a membership log entry.
type Op struct {
	Kind      OpKind               `json:"kind"`
	Node      wire.NodeInfoWire    `json:"node,omitempty"`
	NodeID    string               `json:"node_id,omitempty"`
	Resources *resources.Snapshot  `json:"resources,omitempty"`
}

// EventKind discriminates events on a Roster's event stream.
type EventKind string

const (
	EventNodeChanged EventKind = "nodeChanged"
)

// Event is published whenever a node's roster entry changes.
type Event struct {
	Kind EventKind
	Node Node
}

// Roster holds the cluster membership table. It is the
// consensus.ApplyFunc target for EntryMembership and EntryNodeReport
// entries, and also runs a reconciliation loop against discovery
// events while leader.
type Roster struct {
	cctx     *corectx.Context
	proposer consensus.Proposer
	selfID   string

	discoveryPollInterval time.Duration
	failureGraceMultiple  int

	mu    sync.RWMutex
	nodes map[string]Node

	lastSeen map[string]time.Time

	subMu sync.Mutex
	subs  []chan Event
}

// New builds a Roster. proposer may be nil until consensus is wired up
// (e.g. during tests of pure query methods).
func New(cctx *corectx.Context, proposer consensus.Proposer, selfID string, discoveryPollInterval time.Duration, failureGraceMultiple int) *Roster {
	if cctx == nil {
		cctx = corectx.New()
	}
	if failureGraceMultiple <= 0 {
		failureGraceMultiple = 3
	}
	return &Roster{
		cctx:                  cctx,
		proposer:              proposer,
		selfID:                selfID,
		discoveryPollInterval: discoveryPollInterval,
		failureGraceMultiple:  failureGraceMultiple,
		nodes:                 make(map[string]Node),
		lastSeen:              make(map[string]time.Time),
	}
}

// Subscribe returns a channel carrying roster-change events.
func (r *Roster) Subscribe() <-chan Event {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	ch := make(chan Event, 32)
	r.subs = append(r.subs, ch)
	return ch
}

func (r *Roster) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Apply is the consensus.ApplyFunc for this roster. It must be
// registered as consensus.Config.Apply. It runs inside the consensus
// node's single critical section — it must never call back into
// the consensus.Node synchronously.
func (r *Roster) Apply(entry raftlog.LogEntry) {
	switch entry.Type {
	case raftlog.EntryMembership:
		var op Op
		if err := json.Unmarshal(entry.Payload, &op); err != nil {
			r.cctx.Logger.Printf("membership: bad membership entry payload: %v", err)
			return
		}
		r.applyOp(op)
	case raftlog.EntryNodeReport:
		var op Op
		if err := json.Unmarshal(entry.Payload, &op); err != nil {
			r.cctx.Logger.Printf("membership: bad node-report entry payload: %v", err)
			return
		}
		r.applyOp(Op{Kind: OpUpdateResources, NodeID: op.NodeID, Resources: op.Resources})
	}
}

func (r *Roster) applyOp(op Op) {
	r.mu.Lock()
	var changed Node
	var ok bool
	switch op.Kind {
	case OpJoin:
		n := Node{
			NodeID:       op.Node.NodeID,
			Hostname:     op.Node.Hostname,
			MeshIP:       op.Node.MeshIP,
			Status:       StatusPending,
			Role:         op.Node.Role,
			JoinedAt:     r.cctx.Clock.Now(),
			GRPCEndpoint: op.Node.GRPCEndpoint,
			LastSeen:     r.cctx.Clock.Now(),
		}
		if existing, has := r.nodes[n.NodeID]; has {
			n.Status = existing.Status
			n.JoinedAt = existing.JoinedAt
		}
		r.nodes[n.NodeID] = n
		changed, ok = n, true
	case OpApprove:
		changed, ok = r.transitionLocked(op.NodeID, StatusActive)
	case OpDrain:
		changed, ok = r.transitionLocked(op.NodeID, StatusDraining)
	case OpMarkDrained:
		changed, ok = r.transitionLocked(op.NodeID, StatusDrained)
	case OpLeave:
		changed, ok = r.transitionLocked(op.NodeID, StatusGone)
	case OpUpdateResources:
		if n, has := r.nodes[op.NodeID]; has {
			n.Resources = op.Resources
			n.LastSeen = r.cctx.Clock.Now()
			r.nodes[op.NodeID] = n
			changed, ok = n, true
		}
	}
	r.recomputeActiveGaugeLocked()
	r.mu.Unlock()

	if ok {
		r.publish(Event{Kind: EventNodeChanged, Node: changed})
	}
}

// transitionLocked applies a forward-only status transition. A
// disallowed transition (including one already at or past the target)
// is a silent no-op: the apply loop must never error on a replayed or
// stale entry.
func (r *Roster) transitionLocked(nodeID string, to Status) (Node, bool) {
	n, has := r.nodes[nodeID]
	if !has {
		return Node{}, false
	}
	if n.Status == to {
		return n, true
	}
	if !forward[n.Status][to] {
		return n, false
	}
	n.Status = to
	n.LastSeen = r.cctx.Clock.Now()
	r.nodes[nodeID] = n
	return n, true
}

func (r *Roster) recomputeActiveGaugeLocked() {
	count := 0
	for _, n := range r.nodes {
		if n.Status == StatusActive {
			count++
		}
	}
	telemetry.ActiveNodes.Set(float64(count))
}

// --- Queries ---
func (r *Roster) GetAllNodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

func (r *Roster) GetActiveNodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.Status == StatusActive {
			out = append(out, n)
		}
	}
	return out
}

func (r *Roster) GetPendingApprovals() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, 0)
	for _, n := range r.nodes {
		if n.Status == StatusPending {
			out = append(out, n)
		}
	}
	return out
}

func (r *Roster) GetNode(nodeID string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	return n, ok
}

// --- Leader-only mutation discipline ---
func (r *Roster) propose(op Op) error {
	if r.proposer == nil || !r.proposer.IsLeader() {
		return fmt.Errorf("membership: not leader, current leader is %q", leaderIDOrUnknown(r.proposer))
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	_, _, err = r.proposer.Propose(raftlog.EntryMembership, payload)
	return err
}

func leaderIDOrUnknown(p consensus.Proposer) string {
	if p == nil {
		return "unknown"
	}
	return p.GetLeaderID()
}

func (r *Roster) Join(node wire.NodeInfoWire) error {
	return r.propose(Op{Kind: OpJoin, Node: node})
}

func (r *Roster) Approve(nodeID string) error {
	return r.propose(Op{Kind: OpApprove, NodeID: nodeID})
}

func (r *Roster) Drain(nodeID string) error {
	return r.propose(Op{Kind: OpDrain, NodeID: nodeID})
}

func (r *Roster) MarkDrained(nodeID string) error {
	return r.propose(Op{Kind: OpMarkDrained, NodeID: nodeID})
}

func (r *Roster) Leave(nodeID string) error {
	return r.propose(Op{Kind: OpLeave, NodeID: nodeID})
}

// UpdateResources is proposed by the leader itself when applying a
// local report, or reached indirectly via forwarding a follower's
// ReportHealth RPC into a proposal.
func (r *Roster) UpdateResources(nodeID string, snap resources.Snapshot) error {
	payload, err := json.Marshal(Op{Kind: OpUpdateResources, NodeID: nodeID, Resources: &snap})
	if err != nil {
		return err
	}
	if r.proposer == nil || !r.proposer.IsLeader() {
		return fmt.Errorf("membership: not leader, current leader is %q", leaderIDOrUnknown(r.proposer))
	}
	_, _, err = r.proposer.Propose(raftlog.EntryNodeReport, payload)
	return err
}

// --- Discovery reconciliation ---
// ReconcileDiscoveryEvent consumes a discovery.Event and proposes the
// corresponding membership operation when this node is leader. A
// nodeDiscovered peer not already on the roster proposes a join; a
// nodeOffline event records when the peer went offline and a later
// nodeOnline event clears that record, so SweepStaleNodes proposes
// active→draining only for a peer still offline after
// failureGraceMultiple × poll interval. Non-leader nodes silently
// ignore discovery events, since only the leader may propose.
func (r *Roster) ReconcileDiscoveryEvent(ev discovery.Event) {
	if r.proposer == nil || !r.proposer.IsLeader() {
		return
	}
	switch ev.Kind {
	case discovery.EventNodeDiscovered:
		if _, known := r.GetNode(ev.Peer.ID); known {
			return
		}
		meshIP := ""
		if len(ev.Peer.IPs) > 0 {
			meshIP = ev.Peer.IPs[0]
		}
		_ = r.Join(wire.NodeInfoWire{
			NodeID:       ev.Peer.ID,
			Hostname:     ev.Peer.Hostname,
			MeshIP:       meshIP,
			GRPCEndpoint: fmt.Sprintf("%s:%d", meshIP, defaultGRPCPort),
			Role:         "voter",
		})
	case discovery.EventNodeOffline:
		r.mu.Lock()
		r.lastSeen[ev.Peer.ID] = r.cctx.Clock.Now()
		r.mu.Unlock()
	case discovery.EventNodeOnline:
		r.mu.Lock()
		delete(r.lastSeen, ev.Peer.ID)
		r.mu.Unlock()
	}
}

const defaultGRPCPort = 7942

// SweepStaleNodes proposes active→draining for any node whose last
// discovery sighting is older than failureGraceMultiple × poll
// interval ("a node offline for longer than 3x the discovery
// poll interval begins draining"). Intended to be called on a timer
// by the owning daemon, leader-side only.
func (r *Roster) SweepStaleNodes() {
	if r.proposer == nil || !r.proposer.IsLeader() {
		return
	}
	grace := time.Duration(r.failureGraceMultiple) * r.discoveryPollInterval
	now := r.cctx.Clock.Now()

	r.mu.RLock()
	var stale []string
	for id, seenAt := range r.lastSeen {
		n, ok := r.nodes[id]
		if !ok || n.Status != StatusActive {
			continue
		}
		if now.Sub(seenAt) >= grace {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		if err := r.Drain(id); err != nil {
			r.cctx.Logger.Printf("membership: failed to drain stale node %s: %v", id, err)
		}
	}
}

// MarkSeen records a discovery sighting of nodeID at the current time,
// restarting its failure-grace window: SweepStaleNodes drains the node
// once that sighting is older than the grace.
func (r *Roster) MarkSeen(nodeID string) {
	r.mu.Lock()
	r.lastSeen[nodeID] = r.cctx.Clock.Now()
	r.mu.Unlock()
}
