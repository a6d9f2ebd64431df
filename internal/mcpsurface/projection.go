package mcpsurface

import (
	"fmt"
	"time"

	"github.com/cortexhq/cortexd/internal/clusterstate"
	"github.com/cortexhq/cortexd/internal/membership"
)

// gib formats a byte count as GiB with one decimal place, the
// projection format every cluster:// resource uses for byte fields.
func gib(b uint64) string {
	return fmt.Sprintf("%.1f", float64(b)/(1<<30))
}

// iso8601 renders t as RFC3339 in UTC; the zero value renders as an
// empty string so unset timestamps don't print the Go epoch.
func iso8601(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type nodeView struct {
	NodeID       string             `json:"node_id"`
	Hostname     string             `json:"hostname"`
	MeshIP       string             `json:"mesh_ip"`
	Status       string             `json:"status"`
	Role         string             `json:"role"`
	JoinedAt     string             `json:"joined_at"`
	GRPCEndpoint string             `json:"grpc_endpoint"`
	Resources    *resourcesView     `json:"resources,omitempty"`
}

type resourcesView struct {
	Timestamp      string  `json:"timestamp"`
	CPUCores       int     `json:"cpu_cores"`
	CPUUsagePct    float64 `json:"cpu_usage_pct"`
	MemTotalGiB    string  `json:"mem_total_gib"`
	MemAvailGiB    string  `json:"mem_avail_gib"`
	MemUsedPct     float64 `json:"mem_used_pct"`
	DiskTotalGiB   string  `json:"disk_total_gib"`
	DiskAvailGiB   string  `json:"disk_avail_gib"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	GamingDetected bool    `json:"gaming_detected"`
}

// sanitizeNode drops fields an external MCP client has no business
// seeing (the raw resource snapshot's per-GPU detail) and formats the
// rest for display.
func sanitizeNode(n membership.Node) nodeView {
	v := nodeView{
		NodeID:       n.NodeID,
		Hostname:     n.Hostname,
		MeshIP:       n.MeshIP,
		Status:       string(n.Status),
		Role:         n.Role,
		JoinedAt:     iso8601(n.JoinedAt),
		GRPCEndpoint: n.GRPCEndpoint,
	}
	if n.Resources != nil {
		r := n.Resources
		v.Resources = &resourcesView{
			Timestamp:      iso8601(r.Timestamp),
			CPUCores:       r.CPUCores,
			CPUUsagePct:    r.CPUUsagePct,
			MemTotalGiB:    gib(r.MemTotalBytes),
			MemAvailGiB:    gib(r.MemAvailBytes),
			MemUsedPct:     r.MemUsedPct,
			DiskTotalGiB:   gib(r.DiskTotalBytes),
			DiskAvailGiB:   gib(r.DiskAvailBytes),
			DiskUsedPct:    r.DiskUsedPct,
			GamingDetected: r.GamingDetected,
		}
	}
	return v
}

func projectNodes(nodes []membership.Node) map[string]any {
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, sanitizeNode(n))
	}
	return map[string]any{"nodes": views, "count": len(views)}
}

type stateView struct {
	ClusterID        string     `json:"cluster_id"`
	LeaderID         string     `json:"leader_id"`
	Term             uint64     `json:"term"`
	Nodes            []nodeView `json:"nodes"`
	TotalCPUCores    int        `json:"total_cpu_cores"`
	TotalMemoryGiB   string     `json:"total_memory_gib"`
	TotalGPUCount    int        `json:"total_gpu_count"`
	TotalGPUMemGiB   string     `json:"total_gpu_mem_gib"`
	AvailCPUCores    int        `json:"avail_cpu_cores"`
	AvailMemoryGiB   string     `json:"avail_memory_gib"`
	AvailGPUCount    int        `json:"avail_gpu_count"`
	AvailGPUMemGiB   string     `json:"avail_gpu_mem_gib"`
	ActiveTasks      int        `json:"active_tasks"`
	QueuedTasks      int        `json:"queued_tasks"`
}

func projectState(st clusterstate.State) stateView {
	views := make([]nodeView, 0, len(st.Nodes))
	for _, n := range st.Nodes {
		views = append(views, sanitizeNode(n))
	}
	return stateView{
		ClusterID:      st.ClusterID,
		LeaderID:       st.LeaderID,
		Term:           st.Term,
		Nodes:          views,
		TotalCPUCores:  st.TotalCPUCores,
		TotalMemoryGiB: gib(st.TotalMemoryBytes),
		TotalGPUCount:  st.TotalGPUCount,
		TotalGPUMemGiB: gib(st.TotalGPUMemBytes),
		AvailCPUCores:  st.AvailCPUCores,
		AvailMemoryGiB: gib(st.AvailMemoryBytes),
		AvailGPUCount:  st.AvailGPUCount,
		AvailGPUMemGiB: gib(st.AvailGPUMemBytes),
		ActiveTasks:    st.ActiveTasks,
		QueuedTasks:    st.QueuedTasks,
	}
}
