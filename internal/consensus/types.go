// Package consensus implements the replicated-log leader-election state
// machine: follower/candidate/leader role transitions, randomized
// election timeouts, log replication with log-matching, commit-index
// advancement restricted to the leader's own term, and best-effort
// leadership transfer. It depends on internal/raftlog for durable
// state and on a narrow Transport interface for peer RPCs, breaking
// what would otherwise be a dependency cycle between the consensus,
// transport, and membership packages: Transport is injected as an
// interface, and callers reach back into this package only through
// the small Proposer handle rather than holding the whole Node.
package consensus

import (
	"context"
	"time"

	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Role is one of the three consensus roles.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// Peer identifies a voting member of the consensus group by node ID
// and gRPC endpoint.
type Peer struct {
	ID       string
	Endpoint string
}

// PeerState tracks per-peer replication progress, held only by the
// current leader.
type PeerState struct {
	NextIndex  uint64
	MatchIndex uint64
}

// Transport is the narrow peer-RPC capability the node needs; the
// concrete implementation (internal/transport's Pool) is injected so
// this package never imports the transport wiring directly.
type Transport interface {
	SendRequestVote(ctx context.Context, peer Peer, req *wire.RequestVoteRequest) (*wire.RequestVoteReply, error)
	SendAppendEntries(ctx context.Context, peer Peer, req *wire.AppendEntriesRequest) (*wire.AppendEntriesReply, error)
}

// ApplyFunc is invoked once per committed entry, in strict index
// order, from inside the node's single critical section: the roster
// and cluster state are updated only from inside this apply loop. It
// must not call back into the Node synchronously or it will deadlock.
type ApplyFunc func(entry raftlog.LogEntry)

// State is a point-in-time snapshot returned by GetState, useful for
// tests and for clusterstate's projection.
type State struct {
	Role        Role
	CurrentTerm uint64
	VotedFor    string
	LeaderID    string
	CommitIndex uint64
	LastApplied uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

// EventKind discriminates the variants carried on a Node's event
// stream.
type EventKind string

const (
	EventStateChange  EventKind = "stateChange"
	EventCommit       EventKind = "commit"
	EventLeaderChange EventKind = "leaderChange"
)

// Event is the single tagged-union type published on a Node's event
// stream; only the fields relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	Role     Role
	Term     uint64
	LeaderID string
	Entry    raftlog.LogEntry
}

// Config configures a Node. Zero-value duration fields fall back to
// withDefaults' built-in values (election 150-300ms, heartbeat 50ms).
type Config struct {
	NodeID               string
	Peers                []Peer
	ElectionTimeoutMin   time.Duration
	ElectionTimeoutMax   time.Duration
	HeartbeatInterval    time.Duration
	PreVoteEnabled       bool
	SnapshotThreshold    int
	VoteRPCTimeout       time.Duration
	ReplicationRPCFactor int // replication deadline = heartbeat * this factor, default 3
	Apply                ApplyFunc
}

func (c Config) withDefaults() Config {
	if c.ElectionTimeoutMin <= 0 {
		c.ElectionTimeoutMin = 150 * time.Millisecond
	}
	if c.ElectionTimeoutMax <= 0 {
		c.ElectionTimeoutMax = 300 * time.Millisecond
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 50 * time.Millisecond
	}
	if c.VoteRPCTimeout <= 0 {
		c.VoteRPCTimeout = 2 * time.Second
	}
	if c.ReplicationRPCFactor <= 0 {
		c.ReplicationRPCFactor = 3
	}
	if c.SnapshotThreshold <= 0 {
		c.SnapshotThreshold = 10000
	}
	if c.Apply == nil {
		c.Apply = func(raftlog.LogEntry) {}
	}
	return c
}

func (c Config) replicationTimeout() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.ReplicationRPCFactor)
}

// Proposer is the narrow handle uses to submit membership and
// node-report entries without holding a reference to the full Node
// (cyclic-reference note).
type Proposer interface {
	Propose(entryType raftlog.EntryType, payload []byte) (index uint64, term uint64, err error)
	IsLeader() bool
	GetLeaderID() string
}

// ErrNotLeader is returned by Propose when this node does not
// currently hold leadership.
type ErrNotLeader struct {
	LeaderID string
}

func (e *ErrNotLeader) Error() string {
	if e.LeaderID == "" {
		return "consensus: not leader, no known leader"
	}
	return "consensus: not leader, current leader is " + e.LeaderID
}

// ErrShutdown is returned by Propose calls made after Stop.
type ErrShutdown struct{}

func (ErrShutdown) Error() string { return "consensus: node shut down" }
