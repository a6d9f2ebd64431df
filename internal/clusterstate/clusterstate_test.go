package clusterstate

import (
	"context"
	"testing"
	"time"

	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/membership"
	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/resources"
	"github.com/cortexhq/cortexd/internal/wire"
)

type noopTransport struct{}

func (noopTransport) SendRequestVote(ctx context.Context, peer consensus.Peer, req *wire.RequestVoteRequest) (*wire.RequestVoteReply, error) {
	return nil, context.DeadlineExceeded
}
func (noopTransport) SendAppendEntries(ctx context.Context, peer consensus.Peer, req *wire.AppendEntriesRequest) (*wire.AppendEntriesReply, error) {
	return nil, context.DeadlineExceeded
}

// newSingleNodeCluster builds a real single-node consensus.Node (which
// elects itself immediately) wired to a real membership.Roster as its
// apply target, exactly the way the daemon wires to.
func newSingleNodeCluster(t *testing.T) (*consensus.Node, *membership.Roster) {
	t.Helper()
	var roster *membership.Roster
	node, err := consensus.New(consensus.Config{
		NodeID:             "solo",
		ElectionTimeoutMin: 20 * time.Millisecond,
		ElectionTimeoutMax: 40 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		Apply: func(entry raftlog.LogEntry) {
			roster.Apply(entry)
		},
	}, corectx.New(), raftlog.NewMemStore(), noopTransport{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roster = membership.New(corectx.New(), node, "solo", 15*time.Second, 3)

	node.Start()
	t.Cleanup(node.Stop)

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && !node.IsLeader() {
		time.Sleep(5 * time.Millisecond)
	}
	if !node.IsLeader() {
		t.Fatal("expected single-node cluster to elect itself immediately")
	}
	return node, roster
}

func TestRecompute_SumsOnlyActiveNodes(t *testing.T) {
	node, roster := newSingleNodeCluster(t)

	if err := roster.Join(wire.NodeInfoWire{NodeID: "n1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := roster.Approve("n1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := roster.UpdateResources("n1", resources.Snapshot{
		CPUCores: 8, MemTotalBytes: 1000, MemAvailBytes: 400, CPUUsagePct: 10,
	}); err != nil {
		t.Fatalf("update resources: %v", err)
	}
	if err := roster.Join(wire.NodeInfoWire{NodeID: "n2"}); err != nil { // stays pending
		t.Fatalf("join n2: %v", err)
	}

	proj := New("cluster-1", node, roster, nil)
	s := proj.Recompute()

	if s.TotalCPUCores != 8 {
		t.Fatalf("expected 8 total cores from the single active node, got %d", s.TotalCPUCores)
	}
	if s.AvailMemoryBytes != 400 {
		t.Fatalf("expected 400 avail memory bytes, got %d", s.AvailMemoryBytes)
	}
	if len(s.Nodes) != 2 {
		t.Fatalf("expected both nodes listed regardless of status, got %d", len(s.Nodes))
	}
	if s.LeaderID != "solo" {
		t.Fatalf("expected leaderId=solo, got %s", s.LeaderID)
	}
}

func TestRecompute_PendingNodeExcludedFromTotals(t *testing.T) {
	node, roster := newSingleNodeCluster(t)
	if err := roster.Join(wire.NodeInfoWire{NodeID: "n1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	// n1 stays pending: no Approve call.

	proj := New("cluster-1", node, roster, nil)
	s := proj.Recompute()
	if s.TotalCPUCores != 0 {
		t.Fatalf("expected zero total cores with no active nodes, got %d", s.TotalCPUCores)
	}
}

func TestRecompute_GamingGPUExcludedFromAvailable(t *testing.T) {
	node, roster := newSingleNodeCluster(t)
	_ = roster.Join(wire.NodeInfoWire{NodeID: "n1"})
	_ = roster.Approve("n1")
	_ = roster.UpdateResources("n1", resources.Snapshot{
		GPUs: []resources.GPU{
			{Index: 0, MemTotalBytes: 8000, MemFreeBytes: 8000, InUseForGaming: true},
			{Index: 1, MemTotalBytes: 8000, MemFreeBytes: 6000, InUseForGaming: false},
		},
	})

	proj := New("cluster-1", node, roster, nil)
	s := proj.Recompute()
	if s.TotalGPUCount != 2 {
		t.Fatalf("expected 2 total gpus, got %d", s.TotalGPUCount)
	}
	if s.AvailGPUCount != 1 {
		t.Fatalf("expected only the non-gaming gpu counted available, got %d", s.AvailGPUCount)
	}
	if s.AvailGPUMemBytes != 6000 {
		t.Fatalf("expected 6000 avail gpu mem bytes, got %d", s.AvailGPUMemBytes)
	}
}
