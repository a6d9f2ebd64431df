package consensus

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/telemetry"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Node is a single member of the consensus group. All mutable state is
// guarded by mu, the single logical critical section requires; RPC
// handlers and client operations take the lock directly, and periodic
// workers (election timer, heartbeat ticker) enqueue their effect by
// taking the same lock rather than mutating state from outside it.
type Node struct {
	mu  sync.Mutex
	cfg Config

	cctx      *corectx.Context
	store     raftlog.Store
	transport Transport
	snapStore SnapshotStore

	role           Role
	currentTerm    uint64
	votedFor       string
	leaderID       string
	commitIndex    uint64
	lastApplied    uint64
	log            []raftlog.LogEntry
	peers          []Peer
	peerStates     map[string]*PeerState
	preVotePending bool

	electionTimer  corectx.Timer
	heartbeatTimer corectx.Ticker

	bus *eventBus

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	rng *rand.Rand
}

// New restores persisted term/vote/log from store and constructs a Node
// in the follower role. For an empty log this means term 0, no
// leader, and lastLogIndex/lastLogTerm 0.
func New(cfg Config, cctx *corectx.Context, store raftlog.Store, transport Transport) (*Node, error) {
	cfg = cfg.withDefaults()
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("consensus: NodeID must not be empty")
	}
	if cctx == nil {
		cctx = corectx.New()
	}

	term, err := store.LoadTerm()
	if err != nil {
		return nil, fmt.Errorf("consensus: load term: %w", err)
	}
	vote, err := store.LoadVote()
	if err != nil {
		return nil, fmt.Errorf("consensus: load vote: %w", err)
	}
	lastIdx, err := store.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("consensus: load last index: %w", err)
	}
	var log []raftlog.LogEntry
	if lastIdx > 0 {
		log, err = store.ReadRange(1, lastIdx)
		if err != nil {
			return nil, fmt.Errorf("consensus: read log: %w", err)
		}
	}

	n := &Node{
		cfg:         cfg,
		cctx:        cctx,
		store:       store,
		transport:   transport,
		role:        RoleFollower,
		currentTerm: term,
		votedFor:    vote,
		log:         log,
		peers:       append([]Peer{}, cfg.Peers...),
		peerStates:  make(map[string]*PeerState),
		bus:         newEventBus(),
		stopCh:      make(chan struct{}),
		rng:         rand.New(rand.NewSource(int64(hashSeed(cfg.NodeID)))),
	}
	return n, nil
}

func hashSeed(s string) uint64 {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// Subscribe returns a channel carrying every future Event (typed
// event stream).
func (n *Node) Subscribe() <-chan Event { return n.bus.Subscribe() }

// SetSnapshotStore wires in the optional compaction hook.
func (n *Node) SetSnapshotStore(s SnapshotStore) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snapStore = s
}

// SetPeers replaces the voting set, used when commits membership
// changes that add or remove voters.
func (n *Node) SetPeers(peers []Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = append([]Peer{}, peers...)
}

// SnapshotInfo reports the last compacted prefix (if any) and the
// current in-memory log length, for read-only CLI introspection;
// snapshotting itself only triggers automatically via SnapshotThreshold.
func (n *Node) SnapshotInfo() (snap Snapshot, has bool, logLen int) {
	n.mu.Lock()
	store := n.snapStore
	logLen = len(n.log)
	n.mu.Unlock()

	if store == nil {
		return Snapshot{}, false, logLen
	}
	snap, has, err := store.Load()
	if err != nil {
		return Snapshot{}, false, logLen
	}
	return snap, has, logLen
}

// GetState returns a snapshot of the node's consensus state.
func (n *Node) GetState() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return State{
		Role:         n.role,
		CurrentTerm:  n.currentTerm,
		VotedFor:     n.votedFor,
		LeaderID:     n.leaderID,
		CommitIndex:  n.commitIndex,
		LastApplied:  n.lastApplied,
		LastLogIndex: n.lastLogIndexLocked(),
		LastLogTerm:  n.lastLogTermLocked(),
	}
}

func (n *Node) GetCurrentTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

func (n *Node) GetLeaderID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == RoleLeader
}

func (n *Node) GetLastLogIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastLogIndexLocked()
}

func (n *Node) GetLastLogTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastLogTermLocked()
}

func (n *Node) lastLogIndexLocked() uint64 {
	if len(n.log) == 0 {
		return 0
	}
	return n.log[len(n.log)-1].Index
}

func (n *Node) lastLogTermLocked() uint64 {
	if len(n.log) == 0 {
		return 0
	}
	return n.log[len(n.log)-1].Term
}

// entryAtLocked returns the entry at the given 1-based index, if any.
// The in-memory log is kept contiguous from whatever index survived
// the last snapshot, so this is a linear scan rather than a direct
// slice index once compaction has shifted the base.
func (n *Node) entryAtLocked(index uint64) (raftlog.LogEntry, bool) {
	for _, e := range n.log {
		if e.Index == index {
			return e, true
		}
	}
	return raftlog.LogEntry{}, false
}

func (n *Node) appendLocked(entry raftlog.LogEntry) {
	n.log = append(n.log, entry)
	if err := n.store.AppendEntries([]raftlog.LogEntry{entry}); err != nil {
		n.cctx.Logger.Printf("consensus: persist entry %d failed: %v", entry.Index, err)
	}
}

func (n *Node) truncateSuffixLocked(fromIndex uint64) {
	kept := n.log[:0]
	for _, e := range n.log {
		if e.Index < fromIndex {
			kept = append(kept, e)
		}
	}
	n.log = kept
	if err := n.store.TruncateSuffix(fromIndex); err != nil {
		n.cctx.Logger.Printf("consensus: truncate suffix from %d failed: %v", fromIndex, err)
	}
}

// stepDownToFollowerLocked transitions to follower in a new, higher
// term, clearing votedFor (RequestVote semantics).
func (n *Node) stepDownToFollowerLocked(term uint64) {
	prevRole := n.role
	n.currentTerm = term
	n.votedFor = ""
	n.role = RoleFollower
	n.leaderID = ""
	if err := n.store.SaveTerm(term); err != nil {
		n.cctx.Logger.Printf("consensus: persist term %d failed: %v", term, err)
	}
	if err := n.store.SaveVote(""); err != nil {
		n.cctx.Logger.Printf("consensus: persist cleared vote failed: %v", err)
	}
	n.stopHeartbeatLocked()
	if prevRole != RoleFollower {
		telemetry.LeaderTransitionsTotal.WithLabelValues(string(RoleFollower)).Inc()
		n.bus.publish(Event{Kind: EventStateChange, Role: RoleFollower, Term: term})
	}
	telemetry.CurrentTerm.Set(float64(term))
}

// quorumLocked returns the strict majority size of the voting set
// (peers plus self), per the GLOSSARY definition.
func (n *Node) quorumLocked() int {
	votingSetSize := len(n.peers) + 1
	return votingSetSize/2 + 1
}

// candidateLogUpToDateLocked implements the RequestVote log-currency
// check: greater lastLogTerm wins outright; equal term requires
// lastLogIndex >= mine.
func (n *Node) candidateLogUpToDateLocked(lastLogTerm, lastLogIndex uint64) bool {
	myTerm := n.lastLogTermLocked()
	myIndex := n.lastLogIndexLocked()
	if lastLogTerm != myTerm {
		return lastLogTerm > myTerm
	}
	return lastLogIndex >= myIndex
}
