package consensus

import (
	"context"

	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/telemetry"
	"github.com/cortexhq/cortexd/internal/wire"
)

// RequestVote implements transport.RaftServer; it is the inbound RPC
// handler for vote solicitation.
func (n *Node) RequestVote(_ context.Context, req *wire.RequestVoteRequest) (*wire.RequestVoteReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return &wire.RequestVoteReply{Term: n.currentTerm, VoteGranted: false}, nil
	}

	if req.PreVote {
		// A pre-vote is a probe for a prospective term: grant it
		// whenever a real vote would be grantable at that term, but
		// never adopt the term or touch votedFor, so a merely
		// partitioned candidate can't disrupt the cluster just by
		// asking.
		canGrant := req.Term > n.currentTerm || n.votedFor == "" || n.votedFor == req.CandidateID
		grant := canGrant && n.candidateLogUpToDateLocked(req.LastLogTerm, req.LastLogIndex)
		return &wire.RequestVoteReply{Term: n.currentTerm, VoteGranted: grant}, nil
	}

	if req.Term > n.currentTerm {
		n.stepDownToFollowerLocked(req.Term)
	}

	grant := (n.votedFor == "" || n.votedFor == req.CandidateID) &&
		n.candidateLogUpToDateLocked(req.LastLogTerm, req.LastLogIndex)

	if grant {
		n.votedFor = req.CandidateID
		if err := n.store.SaveVote(req.CandidateID); err != nil {
			n.cctx.Logger.Printf("consensus: persist vote failed: %v", err)
		}
		n.resetElectionTimerLocked()
	}

	return &wire.RequestVoteReply{Term: n.currentTerm, VoteGranted: grant}, nil
}

// AppendEntries implements transport.RaftServer; it is the inbound RPC
// handler covering heartbeats, replication, the log-matching
// consistency check, and commit-index advancement.
func (n *Node) AppendEntries(_ context.Context, req *wire.AppendEntriesRequest) (*wire.AppendEntriesReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if req.Term < n.currentTerm {
		return &wire.AppendEntriesReply{Term: n.currentTerm, Success: false}, nil
	}
	if req.Term > n.currentTerm {
		n.stepDownToFollowerLocked(req.Term)
	} else if n.role == RoleCandidate {
		n.role = RoleFollower
		n.stopHeartbeatLocked()
		n.bus.publish(Event{Kind: EventStateChange, Role: RoleFollower, Term: n.currentTerm})
	}

	if n.leaderID != req.LeaderID {
		n.leaderID = req.LeaderID
		n.bus.publish(Event{Kind: EventLeaderChange, LeaderID: req.LeaderID, Term: n.currentTerm})
	}
	n.resetElectionTimerLocked()

	if req.PrevLogIndex > 0 {
		entry, ok := n.entryAtLocked(req.PrevLogIndex)
		if !ok || entry.Term != req.PrevLogTerm {
			conflictIndex, conflictTerm := n.findConflictLocked(req.PrevLogIndex)
			return &wire.AppendEntriesReply{
				Term: n.currentTerm, Success: false,
				ConflictIndex: conflictIndex, ConflictTerm: conflictTerm,
			}, nil
		}
	}

	for _, ew := range req.Entries {
		if existing, ok := n.entryAtLocked(ew.Index); ok {
			if existing.Term == ew.Term {
				continue
			}
			n.truncateSuffixLocked(ew.Index)
		}
		n.appendLocked(raftlog.LogEntry{
			Index: ew.Index, Term: ew.Term,
			Type: raftlog.EntryType(ew.Type), Payload: ew.Payload,
		})
	}

	if req.LeaderCommit > n.commitIndex {
		lastNew := req.PrevLogIndex
		if len(req.Entries) > 0 {
			lastNew = req.Entries[len(req.Entries)-1].Index
		}
		newCommit := req.LeaderCommit
		if lastNew < newCommit {
			newCommit = lastNew
		}
		if newCommit > n.commitIndex {
			n.commitIndex = newCommit
			n.advanceApplyLocked()
		}
	}

	if req.StepDownNow {
		n.resetElectionTimerToImmediateLocked()
	}

	return &wire.AppendEntriesReply{Term: n.currentTerm, Success: true}, nil
}

// findConflictLocked implements the log-matching walk-back hint: the
// term of whatever occupies prevLogIndex (0 if nothing does) and the
// first index of that term, so the leader can skip straight past an
// entire conflicting term on its next attempt (backpressure).
func (n *Node) findConflictLocked(prevLogIndex uint64) (index, term uint64) {
	entry, ok := n.entryAtLocked(prevLogIndex)
	if !ok {
		return n.lastLogIndexLocked() + 1, 0
	}
	conflictTerm := entry.Term
	first := prevLogIndex
	for i := len(n.log) - 1; i >= 0; i-- {
		if n.log[i].Term == conflictTerm && n.log[i].Index < first {
			first = n.log[i].Index
		}
	}
	return first, conflictTerm
}

// advanceApplyLocked applies newly committed entries in strict index
// order, inside the same critical section as the rest of the
// consensus state. Apply callbacks must not call back into the Node
// synchronously.
func (n *Node) advanceApplyLocked() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		entry, ok := n.entryAtLocked(n.lastApplied)
		if !ok {
			continue
		}
		n.cfg.Apply(entry)
		n.bus.publish(Event{Kind: EventCommit, Term: entry.Term, Entry: entry})
	}
	telemetry.CommitIndex.Set(float64(n.commitIndex))
	n.maybeSnapshotLocked(nil)
}
