package mcpsurface

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cortexhq/cortexd/internal/clusterstate"
	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/gateway"
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

func newTestSurface(t *testing.T) *Surface {
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

	proj := clusterstate.New("cluster-1", node, roster, nil)
	return New(roster, proj, nil)
}

func TestContextSetGetListDelete(t *testing.T) {
	s := newTestSurface(t)
	tools := s.Tools()

	setArgs, _ := json.Marshal(contextSetArgs{Key: "k1", Value: "v1"})
	if _, err := tools["context_set"](context.Background(), setArgs); err != nil {
		t.Fatalf("context_set: %v", err)
	}

	getArgs, _ := json.Marshal(contextKeyArgs{Key: "k1"})
	got, err := tools["context_get"](context.Background(), getArgs)
	if err != nil {
		t.Fatalf("context_get: %v", err)
	}
	m := got.(map[string]any)
	if m["found"] != true || m["value"] != "v1" {
		t.Fatalf("expected found=true value=v1, got %+v", m)
	}

	listed, err := tools["context_list"](context.Background(), nil)
	if err != nil {
		t.Fatalf("context_list: %v", err)
	}
	if listed.(map[string]any)["count"] != 1 {
		t.Fatalf("expected 1 key listed, got %+v", listed)
	}

	delArgs, _ := json.Marshal(contextKeyArgs{Key: "k1"})
	deleted, err := tools["context_delete"](context.Background(), delArgs)
	if err != nil {
		t.Fatalf("context_delete: %v", err)
	}
	if deleted.(map[string]any)["deleted"] != true {
		t.Fatalf("expected deleted=true, got %+v", deleted)
	}

	missing, err := tools["context_get"](context.Background(), getArgs)
	if err != nil {
		t.Fatalf("context_get after delete: %v", err)
	}
	if missing.(map[string]any)["found"] != false {
		t.Fatalf("expected found=false after delete, got %+v", missing)
	}
}

func TestContextSetRequiresKey(t *testing.T) {
	s := newTestSurface(t)
	args, _ := json.Marshal(contextSetArgs{Value: "v1"})
	if _, err := s.Tools()["context_set"](context.Background(), args); err == nil {
		t.Fatal("expected error for empty key")
	}
}

type stubHasher struct{ d time.Duration }

func (h stubHasher) HashRounds(int) time.Duration { return h.d }

func TestRunBenchmark(t *testing.T) {
	prev := defaultHasher
	defaultHasher = stubHasher{d: 100 * time.Millisecond}
	t.Cleanup(func() { defaultHasher = prev })

	s := newTestSurface(t)
	result, err := s.Tools()["run_benchmark"](context.Background(), json.RawMessage(`{"rounds":1000}`))
	if err != nil {
		t.Fatalf("run_benchmark: %v", err)
	}
	m := result.(map[string]any)
	if m["rounds"] != 1000 {
		t.Fatalf("expected rounds=1000, got %+v", m)
	}
	if m["elapsed_ms"] != 100.0 {
		t.Fatalf("expected elapsed_ms=100, got %+v", m)
	}
}

func TestMessagingNotifyWithoutGateway(t *testing.T) {
	s := newTestSurface(t)
	args, _ := json.Marshal(messagingNotifyArgs{Event: "node_joined"})
	if _, err := s.Tools()["messaging_notify"](context.Background(), args); err == nil {
		t.Fatal("expected error when no gateway is configured")
	}
}

func TestMessagingNotifyRequiresConnectedGateway(t *testing.T) {
	s := newTestSurface(t)
	s.gw = gateway.New(corectx.New(), nil)

	args, _ := json.Marshal(messagingNotifyArgs{Event: "node_joined"})
	result, err := s.Tools()["messaging_notify"](context.Background(), args)
	if err != nil {
		t.Fatalf("messaging_notify: %v", err)
	}
	if result.(map[string]any)["sent"] != false {
		t.Fatalf("expected sent=false while gateway disconnected, got %+v", result)
	}

	s.gw.Connect()
	result, err = s.Tools()["messaging_notify"](context.Background(), args)
	if err != nil {
		t.Fatalf("messaging_notify after connect: %v", err)
	}
	if result.(map[string]any)["sent"] != true {
		t.Fatalf("expected sent=true once connected, got %+v", result)
	}
}

func TestResourceClusterStateFormatsBytesAsGiB(t *testing.T) {
	s := newTestSurface(t)
	if err := s.roster.Join(wire.NodeInfoWire{NodeID: "n1"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.roster.Approve("n1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := s.roster.UpdateResources("n1", resources.Snapshot{MemTotalBytes: 1 << 31}); err != nil {
		t.Fatalf("update resources: %v", err)
	}
	s.projector.Recompute()

	result, err := s.Resources()["cluster://state"](context.Background())
	if err != nil {
		t.Fatalf("cluster://state: %v", err)
	}
	sv := result.(stateView)
	if sv.TotalMemoryGiB != "2.0" {
		t.Fatalf("expected 2.0 GiB total memory, got %s", sv.TotalMemoryGiB)
	}
}

func TestResourceNodesSanitized(t *testing.T) {
	s := newTestSurface(t)
	_ = s.roster.Join(wire.NodeInfoWire{NodeID: "n1", Hostname: "box1"})

	result, err := s.Resources()["cluster://nodes"](context.Background())
	if err != nil {
		t.Fatalf("cluster://nodes: %v", err)
	}
	m := result.(map[string]any)
	if m["count"] != 1 {
		t.Fatalf("expected 1 node, got %+v", m)
	}
}

func TestResourceSessionsAndK8sAreStubs(t *testing.T) {
	s := newTestSurface(t)
	if _, err := s.Resources()["cluster://sessions"](context.Background()); err != nil {
		t.Fatalf("cluster://sessions: %v", err)
	}
	if _, err := s.Resources()["cluster://k8s"](context.Background()); err != nil {
		t.Fatalf("cluster://k8s: %v", err)
	}
}
