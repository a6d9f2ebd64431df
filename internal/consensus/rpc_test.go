package consensus

import (
	"testing"

	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/wire"
)

func newTestNode(t *testing.T, id string) *Node {
	t.Helper()
	n, err := New(Config{NodeID: id}, corectx.New(), raftlog.NewMemStore(), fakeTransport{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestBoundary_EmptyLog(t *testing.T) {
	n := newTestNode(t, "a")
	st := n.GetState()
	if st.LastLogIndex != 0 || st.LastLogTerm != 0 || st.CurrentTerm != 0 || st.LeaderID != "" {
		t.Fatalf("unexpected initial state: %+v", st)
	}
}

func TestVoteGate(t *testing.T) {
	b := newTestNode(t, "b")

	grantC, err := b.RequestVote(nil, &wire.RequestVoteRequest{Term: 1, CandidateID: "c"})
	if err != nil || !grantC.VoteGranted {
		t.Fatalf("expected grant to c, got %+v err=%v", grantC, err)
	}

	denyA, err := b.RequestVote(nil, &wire.RequestVoteRequest{Term: 1, CandidateID: "a"})
	if err != nil || denyA.VoteGranted {
		t.Fatalf("expected deny to a, got %+v err=%v", denyA, err)
	}

	grantCAgain, err := b.RequestVote(nil, &wire.RequestVoteRequest{Term: 1, CandidateID: "c"})
	if err != nil || !grantCAgain.VoteGranted {
		t.Fatalf("expected repeat grant to c, got %+v err=%v", grantCAgain, err)
	}
}

func TestStaleTermReject(t *testing.T) {
	a := newTestNode(t, "a")

	reply, err := a.AppendEntries(nil, &wire.AppendEntriesRequest{Term: 2, LeaderID: "l"})
	if err != nil || !reply.Success {
		t.Fatalf("expected success stepping to term 2, got %+v err=%v", reply, err)
	}

	vr, err := a.RequestVote(nil, &wire.RequestVoteRequest{Term: 1, CandidateID: "x"})
	if err != nil {
		t.Fatalf("RequestVote: %v", err)
	}
	if vr.VoteGranted || vr.Term != 2 {
		t.Fatalf("expected stale-term reject with term=2, got %+v", vr)
	}
}

func TestLogMatchingOverwrite(t *testing.T) {
	n := newTestNode(t, "n")
	n.mu.Lock()
	n.currentTerm = 1
	n.appendLocked(raftlog.LogEntry{Index: 1, Term: 1, Type: raftlog.EntryStateOp, Payload: []byte("x")})
	n.appendLocked(raftlog.LogEntry{Index: 2, Term: 1, Type: raftlog.EntryStateOp, Payload: []byte("y")})
	n.mu.Unlock()

	reply, err := n.AppendEntries(nil, &wire.AppendEntriesRequest{
		Term: 2, LeaderID: "leader",
		PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []wire.LogEntryWire{{Index: 2, Term: 2, Type: string(raftlog.EntryStateOp), Payload: []byte("z")}},
	})
	if err != nil || !reply.Success {
		t.Fatalf("expected success, got %+v err=%v", reply, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.log) != 2 {
		t.Fatalf("expected log length 2, got %d: %+v", len(n.log), n.log)
	}
	if n.log[0].Index != 1 || n.log[0].Term != 1 || string(n.log[0].Payload) != "x" {
		t.Fatalf("expected entry 1 unchanged, got %+v", n.log[0])
	}
	if n.log[1].Index != 2 || n.log[1].Term != 2 || string(n.log[1].Payload) != "z" {
		t.Fatalf("expected entry 2 overwritten, got %+v", n.log[1])
	}
}

func TestAppendEntries_ConsistencyCheckRejectsOnMismatch(t *testing.T) {
	n := newTestNode(t, "n")
	reply, err := n.AppendEntries(nil, &wire.AppendEntriesRequest{
		Term: 1, LeaderID: "leader",
		PrevLogIndex: 5, PrevLogTerm: 1,
	})
	if err != nil {
		t.Fatalf("AppendEntries: %v", err)
	}
	if reply.Success {
		t.Fatalf("expected rejection on missing prevLogIndex, got success")
	}
}

func TestAppendEntries_CommitIndexAdvancesAndApplies(t *testing.T) {
	var applied []raftlog.LogEntry
	n, err := New(Config{NodeID: "f", Apply: func(e raftlog.LogEntry) { applied = append(applied, e) }},
		corectx.New(), raftlog.NewMemStore(), fakeTransport{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := n.AppendEntries(nil, &wire.AppendEntriesRequest{
		Term: 1, LeaderID: "leader",
		Entries: []wire.LogEntryWire{
			{Index: 1, Term: 1, Type: string(raftlog.EntryNoop)},
			{Index: 2, Term: 1, Type: string(raftlog.EntryStateOp), Payload: []byte("a")},
		},
		LeaderCommit: 2,
	})
	if err != nil || !reply.Success {
		t.Fatalf("AppendEntries: %+v err=%v", reply, err)
	}

	st := n.GetState()
	if st.CommitIndex != 2 || st.LastApplied != 2 {
		t.Fatalf("expected commit/apply to reach 2, got %+v", st)
	}
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied entries, got %d", len(applied))
	}
}
