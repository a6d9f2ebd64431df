package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/telemetry"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Start launches the election timer and, if this node still holds the
// leader role (Start called again after Stop on a Node that was
// leading), immediately resumes heartbeating. A Node built by New
// always starts as a follower.
func (n *Node) Start() {
	n.mu.Lock()
	n.stopCh = make(chan struct{})
	n.stopped = false
	timeout := n.randomElectionTimeoutLocked()
	n.electionTimer = n.cctx.Clock.NewTimer(timeout)
	if n.role == RoleLeader {
		n.startHeartbeatLocked()
	}
	n.mu.Unlock()

	n.wg.Add(1)
	go n.runLoop()
}

// Stop halts all timers and in-flight work; outstanding Propose calls
// made afterward return ErrShutdown.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	close(n.stopCh)
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
	n.stopHeartbeatLocked()
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Node) randomElectionTimeoutLocked() time.Duration {
	lo, hi := n.cfg.ElectionTimeoutMin, n.cfg.ElectionTimeoutMax
	if hi <= lo {
		return lo
	}
	spread := hi - lo
	return lo + time.Duration(n.rng.Int63n(int64(spread)))
}

func (n *Node) resetElectionTimerLocked() {
	if n.electionTimer == nil {
		return
	}
	n.electionTimer.Stop()
	n.electionTimer.Reset(n.randomElectionTimeoutLocked())
}

// resetElectionTimerToImmediateLocked fires the election timer on the
// next tick, used when a leader hands off via transferLeadership's
// step-down-now signal so the target starts its election without
// waiting out a full randomized timeout.
func (n *Node) resetElectionTimerToImmediateLocked() {
	if n.electionTimer == nil {
		return
	}
	n.electionTimer.Stop()
	n.electionTimer.Reset(time.Millisecond)
}

func (n *Node) startHeartbeatLocked() {
	if n.heartbeatTimer != nil {
		return
	}
	n.heartbeatTimer = n.cctx.Clock.NewTicker(n.cfg.HeartbeatInterval)
}

func (n *Node) stopHeartbeatLocked() {
	if n.heartbeatTimer == nil {
		return
	}
	n.heartbeatTimer.Stop()
	n.heartbeatTimer = nil
}

func (n *Node) runLoop() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		electionC := electionChan(n.electionTimer)
		heartbeatC := heartbeatChan(n.heartbeatTimer)
		n.mu.Unlock()

		select {
		case <-n.stopCh:
			return
		case <-electionC:
			n.onElectionTimeout()
		case <-heartbeatC:
			n.broadcastAppendEntries()
		}
	}
}

func electionChan(t interface{ C() <-chan time.Time }) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

func heartbeatChan(t interface{ C() <-chan time.Time }) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}

// onElectionTimeout implements the election-start transition. With
// PreVoteEnabled it first runs a non-binding probe round (runPreVote)
// so a node that's merely partitioned from the leader doesn't bump the
// cluster's term on every timeout; otherwise it campaigns immediately.
func (n *Node) onElectionTimeout() {
	n.mu.Lock()
	if n.role == RoleLeader {
		n.mu.Unlock()
		return
	}

	if n.cfg.PreVoteEnabled {
		if n.preVotePending {
			n.resetElectionTimerLocked()
			n.mu.Unlock()
			return
		}
		n.preVotePending = true
		term := n.currentTerm + 1
		lastIdx := n.lastLogIndexLocked()
		lastTerm := n.lastLogTermLocked()
		peers := append([]Peer{}, n.peers...)
		quorum := n.quorumLocked()
		n.resetElectionTimerLocked()
		n.mu.Unlock()

		n.runPreVote(term, lastIdx, lastTerm, peers, quorum)
		return
	}

	n.mu.Unlock()
	n.beginCampaign()
}

// runPreVote solicits a non-binding majority for a prospective term
// before beginCampaign incurs a real term bump and a persisted vote.
// Peers grant or refuse without adopting the term (see RequestVote),
// so a losing round leaves cluster state untouched.
func (n *Node) runPreVote(term, lastIdx, lastTerm uint64, peers []Peer, quorum int) {
	if len(peers) == 0 {
		n.mu.Lock()
		n.preVotePending = false
		n.mu.Unlock()
		n.beginCampaign()
		return
	}

	var mu sync.Mutex
	votes := 1 // self
	decided := false

	conclude := func(won bool) {
		n.mu.Lock()
		n.preVotePending = false
		n.mu.Unlock()
		if won {
			n.beginCampaign()
		}
	}

	for _, p := range peers {
		go func(p Peer) {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.VoteRPCTimeout)
			defer cancel()
			reply, err := n.transport.SendRequestVote(ctx, p, &wire.RequestVoteRequest{
				Term: term, CandidateID: n.cfg.NodeID,
				LastLogIndex: lastIdx, LastLogTerm: lastTerm,
				PreVote: true,
			})
			if err != nil || !reply.VoteGranted {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if decided {
				return
			}
			votes++
			if votes >= quorum {
				decided = true
				conclude(true)
			}
		}(p)
	}

	go func() {
		time.Sleep(n.cfg.VoteRPCTimeout)
		mu.Lock()
		defer mu.Unlock()
		if decided {
			return
		}
		decided = true
		conclude(false)
	}()
}

// beginCampaign bumps the term, votes for self, persists both, and
// solicits binding votes for the new term.
func (n *Node) beginCampaign() {
	n.mu.Lock()
	if n.role == RoleLeader {
		n.mu.Unlock()
		return
	}
	n.role = RoleCandidate
	n.currentTerm++
	n.votedFor = n.cfg.NodeID
	if err := n.store.SaveTerm(n.currentTerm); err != nil {
		n.cctx.Logger.Printf("consensus: persist term failed: %v", err)
	}
	if err := n.store.SaveVote(n.votedFor); err != nil {
		n.cctx.Logger.Printf("consensus: persist vote failed: %v", err)
	}
	n.resetElectionTimerLocked()
	term := n.currentTerm
	lastIdx := n.lastLogIndexLocked()
	lastTerm := n.lastLogTermLocked()
	peers := append([]Peer{}, n.peers...)
	quorum := n.quorumLocked()
	n.bus.publish(Event{Kind: EventStateChange, Role: RoleCandidate, Term: term})
	telemetry.ElectionsStartedTotal.Inc()
	telemetry.LeaderTransitionsTotal.WithLabelValues(string(RoleCandidate)).Inc()
	n.mu.Unlock()

	n.runElection(term, lastIdx, lastTerm, peers, quorum)
}

// runElection solicits votes concurrently and promotes to leader the
// instant a majority (including self) is reached in the same term.
func (n *Node) runElection(term, lastIdx, lastTerm uint64, peers []Peer, quorum int) {
	if len(peers) == 0 {
		// Single-node cluster: the candidate's own vote is already a majority.
		n.becomeLeaderIfStillCandidate(term)
		return
	}

	votes := 1 // self
	var votesMu sync.Mutex
	promoted := false

	for _, p := range peers {
		go func(p Peer) {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.VoteRPCTimeout)
			defer cancel()
			reply, err := n.transport.SendRequestVote(ctx, p, &wire.RequestVoteRequest{
				Term: term, CandidateID: n.cfg.NodeID,
				LastLogIndex: lastIdx, LastLogTerm: lastTerm,
			})
			if err != nil {
				return
			}

			n.mu.Lock()
			if reply.Term > n.currentTerm {
				n.stepDownToFollowerLocked(reply.Term)
				n.mu.Unlock()
				return
			}
			stillCandidate := n.role == RoleCandidate && n.currentTerm == term
			n.mu.Unlock()
			if !stillCandidate || !reply.VoteGranted {
				return
			}

			votesMu.Lock()
			votes++
			won := votes >= quorum && !promoted
			if won {
				promoted = true
			}
			votesMu.Unlock()

			if won {
				n.becomeLeaderIfStillCandidate(term)
			}
		}(p)
	}
}

// becomeLeaderIfStillCandidate performs the candidate-to-leader
// transition: initialize per-peer replication state, broadcast an
// immediate heartbeat, and commit a no-op leader-epoch marker so the
// new leader's own term has at least one entry to count toward
// leader-completeness.
func (n *Node) becomeLeaderIfStillCandidate(term uint64) {
	n.mu.Lock()
	if n.role != RoleCandidate || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	n.role = RoleLeader
	n.leaderID = n.cfg.NodeID
	n.peerStates = make(map[string]*PeerState, len(n.peers))
	nextIdx := n.lastLogIndexLocked() + 1
	for _, p := range n.peers {
		n.peerStates[p.ID] = &PeerState{NextIndex: nextIdx, MatchIndex: 0}
	}
	n.electionTimer.Stop()
	n.startHeartbeatLocked()
	n.bus.publish(Event{Kind: EventStateChange, Role: RoleLeader, Term: term})
	n.bus.publish(Event{Kind: EventLeaderChange, LeaderID: n.cfg.NodeID, Term: term})
	telemetry.LeaderTransitionsTotal.WithLabelValues(string(RoleLeader)).Inc()

	entry := raftlog.LogEntry{Index: n.lastLogIndexLocked() + 1, Term: term, Type: raftlog.EntryNoop}
	n.appendLocked(entry)
	if len(n.peers) == 0 {
		n.commitIndex = entry.Index
		n.advanceApplyLocked()
	}
	n.mu.Unlock()

	n.broadcastAppendEntries()
}
