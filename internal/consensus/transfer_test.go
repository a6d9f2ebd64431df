package consensus

import (
	"testing"
	"time"
)

func TestTransferLeadership_StepsDownAndHandsOff(t *testing.T) {
	cluster, nodes := newClusterOfThree(t)
	for _, n := range nodes {
		n.Start()
	}
	defer func() {
		for _, n := range nodes {
			n.Stop()
		}
	}()
	_ = cluster

	deadline := time.Now().Add(1200 * time.Millisecond)
	var leader *Node
	for time.Now().Before(deadline) {
		leader = findLeader(nodes)
		if leader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if leader == nil {
		t.Fatal("expected an initial leader")
	}

	var targetID string
	for id := range nodes {
		if id != leader.cfg.NodeID {
			targetID = id
			break
		}
	}

	ok, msg := leader.TransferLeadership(targetID)
	if !ok {
		t.Fatalf("expected transfer to report success, got message=%q", msg)
	}
	if leader.IsLeader() {
		t.Fatal("expected former leader to have stepped down")
	}

	deadline = time.Now().Add(1200 * time.Millisecond)
	var newLeader *Node
	for time.Now().Before(deadline) {
		newLeader = findLeader(nodes)
		if newLeader != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if newLeader == nil {
		t.Fatal("expected a leader to re-emerge after transfer")
	}
}

func TestTransferLeadership_NotLeaderReturnsFalse(t *testing.T) {
	n := newTestNode(t, "follower")
	ok, msg := n.TransferLeadership("")
	if ok {
		t.Fatalf("expected failure for non-leader, got success message=%q", msg)
	}
}
