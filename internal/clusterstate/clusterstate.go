// Package clusterstate is a pure projection over the membership roster
// and the consensus node's term/leader state: it holds no state of
// its own beyond the last computed snapshot and recomputes entirely
// from its sources on every call.
package clusterstate

import (
	"sync"

	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/membership"
	"github.com/cortexhq/cortexd/internal/wire"
)

// State is the computed cluster-wide projection.
type State struct {
	ClusterID        string
	LeaderID         string
	Term             uint64
	Nodes            []membership.Node
	TotalCPUCores    int
	TotalMemoryBytes uint64
	TotalGPUCount    int
	TotalGPUMemBytes uint64
	AvailCPUCores    int
	AvailMemoryBytes uint64
	AvailGPUCount    int
	AvailGPUMemBytes uint64
	ActiveTasks      int
	QueuedTasks      int
}

func (s State) ToWire() wire.GetClusterStateResponse {
	nodes := make([]wire.NodeInfoWire, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		nodes = append(nodes, n.ToWire())
	}
	return wire.GetClusterStateResponse{
		ClusterID:        s.ClusterID,
		LeaderID:         s.LeaderID,
		Term:             s.Term,
		Nodes:            nodes,
		TotalCPUCores:    s.TotalCPUCores,
		TotalMemoryBytes: s.TotalMemoryBytes,
		TotalGPUCount:    s.TotalGPUCount,
		TotalGPUMemBytes: s.TotalGPUMemBytes,
		AvailCPUCores:    s.AvailCPUCores,
		AvailMemoryBytes: s.AvailMemoryBytes,
		AvailGPUCount:    s.AvailGPUCount,
		AvailGPUMemBytes: s.AvailGPUMemBytes,
		ActiveTasks:      s.ActiveTasks,
		QueuedTasks:      s.QueuedTasks,
	}
}

// TaskCounter supplies the workload layer's task counts; clusterstate
// only reads these, it never owns scheduling.
type TaskCounter interface {
	ActiveTaskCount() int
	QueuedTaskCount() int
}

// NoTasks is a TaskCounter that always reports zero tasks.
type NoTasks struct{}

func (NoTasks) ActiveTaskCount() int { return 0 }
func (NoTasks) QueuedTaskCount() int { return 0 }

// Projector computes the cluster-wide state projection on demand.
type Projector struct {
	clusterID string
	node      *consensus.Node
	roster    *membership.Roster
	tasks     TaskCounter

	mu   sync.RWMutex
	last State
}

// New builds a Projector. A nil tasks falls back to NoTasks.
func New(clusterID string, node *consensus.Node, roster *membership.Roster, tasks TaskCounter) *Projector {
	if tasks == nil {
		tasks = NoTasks{}
	}
	return &Projector{clusterID: clusterID, node: node, roster: roster, tasks: tasks}
}

// Recompute rebuilds the projection from scratch: totals are always
// the sum over currently-active nodes' last known resource snapshot,
// never a running accumulator. It runs only when called (the daemon's
// GetClusterState handler calls it); commit events and resource
// reports do not trigger it, so Last can lag behind the roster.
func (p *Projector) Recompute() State {
	st := p.node.GetState()
	nodes := p.roster.GetAllNodes()

	s := State{
		ClusterID:   p.clusterID,
		LeaderID:    st.LeaderID,
		Term:        st.CurrentTerm,
		Nodes:       nodes,
		ActiveTasks: p.tasks.ActiveTaskCount(),
		QueuedTasks: p.tasks.QueuedTaskCount(),
	}

	for _, n := range nodes {
		if n.Status != membership.StatusActive || n.Resources == nil {
			continue
		}
		r := n.Resources
		s.TotalCPUCores += r.CPUCores
		s.TotalMemoryBytes += r.MemTotalBytes
		s.AvailMemoryBytes += r.MemAvailBytes
		// A node not currently saturated by its own workload
		// contributes its full core count to available capacity;
		// per-core reservation is out of scope for this projection.
		if r.CPUUsagePct < 100 {
			s.AvailCPUCores += r.CPUCores
		}
		for _, g := range r.GPUs {
			s.TotalGPUCount++
			s.TotalGPUMemBytes += g.MemTotalBytes
			if !g.InUseForGaming {
				s.AvailGPUCount++
				s.AvailGPUMemBytes += g.MemFreeBytes
			}
		}
	}

	p.mu.Lock()
	p.last = s
	p.mu.Unlock()
	return s
}

// Last returns the most recently computed projection without
// recomputing.
func (p *Projector) Last() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
