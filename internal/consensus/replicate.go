package consensus

import (
	"context"
	"sort"

	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/telemetry"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Propose appends a new entry at the leader's log tail and returns its
// {index, term} once durably persisted locally; replication to peers
// proceeds asynchronously via the heartbeat/replication loop. Returns
// ErrNotLeader on a follower or candidate.
func (n *Node) Propose(entryType raftlog.EntryType, payload []byte) (uint64, uint64, error) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return 0, 0, ErrShutdown{}
	}
	if n.role != RoleLeader {
		leaderID := n.leaderID
		n.mu.Unlock()
		return 0, 0, &ErrNotLeader{LeaderID: leaderID}
	}

	entry := raftlog.LogEntry{
		Index:   n.lastLogIndexLocked() + 1,
		Term:    n.currentTerm,
		Type:    entryType,
		Payload: payload,
	}
	n.appendLocked(entry)
	if len(n.peers) == 0 {
		n.commitIndex = entry.Index
		n.advanceApplyLocked()
	}
	n.mu.Unlock()

	n.broadcastAppendEntries()
	return entry.Index, entry.Term, nil
}

// broadcastAppendEntries sends a heartbeat/replication AppendEntries
// to every peer, in parallel, applying the reply to per-peer
// nextIndex/matchIndex and then re-evaluating commit advancement.
func (n *Node) broadcastAppendEntries() {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return
	}
	peers := append([]Peer{}, n.peers...)
	term := n.currentTerm
	leaderID := n.cfg.NodeID
	leaderCommit := n.commitIndex
	n.mu.Unlock()

	for _, p := range peers {
		go n.replicateTo(p, term, leaderID, leaderCommit)
	}
}

func (n *Node) replicateTo(peer Peer, term uint64, leaderID string, leaderCommit uint64) {
	n.mu.Lock()
	if n.role != RoleLeader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	ps, ok := n.peerStates[peer.ID]
	if !ok {
		ps = &PeerState{NextIndex: n.lastLogIndexLocked() + 1}
		n.peerStates[peer.ID] = ps
	}
	prevLogIndex := ps.NextIndex - 1
	prevLogTerm := uint64(0)
	if prevLogIndex > 0 {
		if e, ok := n.entryAtLocked(prevLogIndex); ok {
			prevLogTerm = e.Term
		}
	}
	var wireEntries []wire.LogEntryWire
	for _, e := range n.log {
		if e.Index >= ps.NextIndex {
			wireEntries = append(wireEntries, wire.LogEntryWire{
				Index: e.Index, Term: e.Term, Type: string(e.Type), Payload: e.Payload,
			})
		}
	}
	req := &wire.AppendEntriesRequest{
		Term: term, LeaderID: leaderID,
		PrevLogIndex: prevLogIndex, PrevLogTerm: prevLogTerm,
		Entries: wireEntries, LeaderCommit: leaderCommit,
	}
	timeout := n.cfg.replicationTimeout()
	n.mu.Unlock()

	labelOutcome := "error"
	start := n.cctx.Clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	reply, err := n.transport.SendAppendEntries(ctx, peer, req)
	defer func() {
		telemetry.AppendEntriesLatency.WithLabelValues(peer.ID, labelOutcome).Observe(n.cctx.Clock.Now().Sub(start).Seconds())
	}()
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if reply.Term > n.currentTerm {
		n.stepDownToFollowerLocked(reply.Term)
		return
	}
	if n.role != RoleLeader || n.currentTerm != term {
		return
	}

	if reply.Success {
		labelOutcome = "success"
		ps.MatchIndex = prevLogIndex + uint64(len(wireEntries))
		ps.NextIndex = ps.MatchIndex + 1
		n.advanceCommitIndexLocked()
		return
	}

	labelOutcome = "rejected"
	// Log-matching walk-back: use the follower's conflict hint when
	// present, otherwise back off by one.
	if reply.ConflictIndex > 0 {
		ps.NextIndex = reply.ConflictIndex
	} else if ps.NextIndex > 1 {
		ps.NextIndex--
	}
}

// advanceCommitIndexLocked implements the leader's commit-advancement
// rule: find the highest N with a majority matchIndex >= N whose entry is
// from the current term, and only ever commit forward.
func (n *Node) advanceCommitIndexLocked() {
	if len(n.peers) == 0 {
		return
	}
	matches := make([]uint64, 0, len(n.peers)+1)
	matches = append(matches, n.lastLogIndexLocked()) // leader always matches itself
	for _, ps := range n.peerStates {
		matches = append(matches, ps.MatchIndex)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i] > matches[j] })

	quorum := n.quorumLocked()
	if quorum > len(matches) {
		return
	}
	candidateN := matches[quorum-1]
	if candidateN <= n.commitIndex {
		return
	}
	entry, ok := n.entryAtLocked(candidateN)
	if !ok || entry.Term != n.currentTerm {
		return
	}
	n.commitIndex = candidateN
	n.advanceApplyLocked()
}

// TransferLeadership implements a best-effort leadership handoff: if a
// target is named and its matchIndex is behind the leader's last log
// index, it sends that peer one replication round (it neither retries
// nor checks that the peer caught up), then signals it to start an
// election immediately via the step-down-now flag, and steps this node
// down to follower. Raft itself still decides the next leader, so callers
// must re-read state afterward.
func (n *Node) TransferLeadership(targetNodeID string) (bool, string) {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return false, "not leader"
	}
	term := n.currentTerm
	lastIdx := n.lastLogIndexLocked()
	var target *Peer
	for i := range n.peers {
		if n.peers[i].ID == targetNodeID {
			target = &n.peers[i]
			break
		}
	}
	if targetNodeID != "" && target == nil {
		n.mu.Unlock()
		return false, "unknown target node"
	}
	n.mu.Unlock()

	if target != nil {
		n.mu.Lock()
		ps := n.peerStates[target.ID]
		n.mu.Unlock()
		if ps == nil || ps.MatchIndex < lastIdx {
			n.replicateTo(*target, term, n.cfg.NodeID, n.commitIndexSnapshot())
		}

		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.replicationTimeout())
		defer cancel()
		n.transport.SendAppendEntries(ctx, *target, &wire.AppendEntriesRequest{
			Term: term, LeaderID: n.cfg.NodeID,
			PrevLogIndex: lastIdx, PrevLogTerm: n.GetLastLogTerm(),
			LeaderCommit: n.commitIndexSnapshot(), StepDownNow: true,
		})
	}

	n.mu.Lock()
	if n.role == RoleLeader && n.currentTerm == term {
		n.role = RoleFollower
		n.stopHeartbeatLocked()
		n.resetElectionTimerLocked()
		n.bus.publish(Event{Kind: EventStateChange, Role: RoleFollower, Term: term})
		telemetry.LeaderTransitionsTotal.WithLabelValues(string(RoleFollower)).Inc()
	}
	n.mu.Unlock()

	return true, "stepped down"
}

func (n *Node) commitIndexSnapshot() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}
