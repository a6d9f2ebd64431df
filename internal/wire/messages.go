// Package wire defines the plain message types exchanged by cortexd's
// three gRPC services: RaftService, ClusterService, and the core's
// projection slice of AgentService. Messages are marshaled with the
// transport package's JSON grpc codec rather than generated protobuf
// code, so they are declared here as ordinary Go structs with JSON tags.
package wire

import "time"

// --- RaftService ---

// RequestVoteRequest is the candidate's solicitation for a vote.
type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
	PreVote      bool   `json:"pre_vote,omitempty"`
}

// RequestVoteReply carries the voter's decision.
type RequestVoteReply struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

// LogEntryWire is the wire form of a consensus log entry.
type LogEntryWire struct {
	Index   uint64 `json:"index"`
	Term    uint64 `json:"term"`
	Type    string `json:"type"` // noop | membership | nodeReport | stateOp
	Payload []byte `json:"payload"`
}

// AppendEntriesRequest replicates log entries or carries a heartbeat.
type AppendEntriesRequest struct {
	Term          uint64         `json:"term"`
	LeaderID      string         `json:"leader_id"`
	PrevLogIndex  uint64         `json:"prev_log_index"`
	PrevLogTerm   uint64         `json:"prev_log_term"`
	Entries       []LogEntryWire `json:"entries"`
	LeaderCommit  uint64         `json:"leader_commit"`
	StepDownNow   bool           `json:"step_down_now,omitempty"` // leadership-transfer signal
}

// AppendEntriesReply carries the follower's outcome.
type AppendEntriesReply struct {
	Term          uint64 `json:"term"`
	Success       bool   `json:"success"`
	ConflictIndex uint64 `json:"conflict_index,omitempty"`
	ConflictTerm  uint64 `json:"conflict_term,omitempty"`
}

// --- ClusterService ---

// NodeInfoWire is the wire projection of a membership node record.
type NodeInfoWire struct {
	NodeID       string    `json:"node_id"`
	Hostname     string    `json:"hostname"`
	MeshIP       string    `json:"mesh_ip"`
	Status       string    `json:"status"`
	Role         string    `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
	GRPCEndpoint string    `json:"grpc_endpoint"`
	Resources    *ResourceSnapshotWire `json:"resources,omitempty"`
}

// GetClusterStateRequest has no parameters.
type GetClusterStateRequest struct{}

// GetClusterStateResponse is the wire ClusterState projection.
type GetClusterStateResponse struct {
	ClusterID          string         `json:"cluster_id"`
	LeaderID           string         `json:"leader_id"`
	Term               uint64         `json:"term"`
	Nodes              []NodeInfoWire `json:"nodes"`
	TotalCPUCores      int            `json:"total_cpu_cores"`
	TotalMemoryBytes   uint64         `json:"total_memory_bytes"`
	TotalGPUCount      int            `json:"total_gpu_count"`
	TotalGPUMemBytes   uint64         `json:"total_gpu_mem_bytes"`
	AvailCPUCores      int            `json:"avail_cpu_cores"`
	AvailMemoryBytes   uint64         `json:"avail_memory_bytes"`
	AvailGPUCount      int            `json:"avail_gpu_count"`
	AvailGPUMemBytes   uint64         `json:"avail_gpu_mem_bytes"`
	ActiveTasks        int            `json:"active_tasks"`
	QueuedTasks        int            `json:"queued_tasks"`
}

// ListNodesRequest has no parameters.
type ListNodesRequest struct{}

// ListNodesResponse lists all known membership nodes.
type ListNodesResponse struct {
	Nodes []NodeInfoWire `json:"nodes"`
}

// JoinClusterRequest proposes a new node join.
type JoinClusterRequest struct {
	Node NodeInfoWire `json:"node"`
}

// JoinClusterResponse acknowledges or redirects a join request.
type JoinClusterResponse struct {
	Accepted bool   `json:"accepted"`
	LeaderID string `json:"leader_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ApproveNodeRequest approves a pending node.
type ApproveNodeRequest struct {
	NodeID string `json:"node_id"`
}

// ApproveNodeResponse acknowledges the approval.
type ApproveNodeResponse struct {
	Success  bool   `json:"success"`
	LeaderID string `json:"leader_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DrainNodeRequest begins draining a node.
type DrainNodeRequest struct {
	NodeID string `json:"node_id"`
}

// DrainNodeResponse acknowledges the drain.
type DrainNodeResponse struct {
	Success  bool   `json:"success"`
	LeaderID string `json:"leader_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TransferLeadershipRequest hints Raft toward a target node (best-effort).
type TransferLeadershipRequest struct {
	TargetNodeID string `json:"target_node_id,omitempty"`
}

// TransferLeadershipResponse reports the outcome of the step-down.
type TransferLeadershipResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ReportHealthRequest carries a node-report from a follower to the leader.
type ReportHealthRequest struct {
	NodeID    string                `json:"node_id"`
	Health    HealthStatusWire      `json:"health"`
	Resources ResourceSnapshotWire  `json:"resources"`
}

// ReportHealthResponse acknowledges the report.
type ReportHealthResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// --- AgentService (core projection slice only) ---
// GetHealthRequest has no parameters.
type GetHealthRequest struct{}

// GetHealthResponse is the wire HealthStatus projection.
type GetHealthResponse struct {
	Status HealthStatusWire `json:"status"`
}

// HealthStatusWire is the wire form of a health status.
type HealthStatusWire struct {
	Healthy     bool           `json:"healthy"`
	Message     string         `json:"message"`
	LastCheck   time.Time      `json:"last_check"`
	UptimeSec   int64          `json:"uptime_sec"`
	ActiveTasks []string       `json:"active_tasks"`
	Issues      []IssueWire    `json:"issues"`
}

// IssueWire is the wire form of a single health issue.
type IssueWire struct {
	Severity  string    `json:"severity"` // warn | err
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// GetResourcesRequest has no parameters.
type GetResourcesRequest struct{}

// GetResourcesResponse is the wire ResourceSnapshot projection.
type GetResourcesResponse struct {
	Snapshot ResourceSnapshotWire `json:"snapshot"`
}

// SetSquelchRequest toggles whether this node emits outbound alert
// notifications.
type SetSquelchRequest struct {
	Squelched bool `json:"squelched"`
}

// SetSquelchResponse echoes the new state.
type SetSquelchResponse struct {
	Squelched bool `json:"squelched"`
}

// GetSnapshotInfoRequest has no parameters.
type GetSnapshotInfoRequest struct{}

// GetSnapshotInfoResponse reports this node's consensus log and
// snapshot bookkeeping; snapshotting itself is threshold-triggered,
// not remotely forced, so this is read-only.
type GetSnapshotInfoResponse struct {
	LastIncludedIndex uint64 `json:"last_included_index"`
	LastIncludedTerm  uint64 `json:"last_included_term"`
	HasSnapshot       bool   `json:"has_snapshot"`
	LogLength         int    `json:"log_length"`
	SnapshotThreshold int    `json:"snapshot_threshold"`
}

// ResourceSnapshotWire is the wire form of a resource snapshot.
type ResourceSnapshotWire struct {
	Timestamp      time.Time `json:"timestamp"`
	CPUCores       int       `json:"cpu_cores"`
	CPUUsagePct    float64   `json:"cpu_usage_pct"`
	LoadAvg1       float64   `json:"load_avg_1"`
	LoadAvg5       float64   `json:"load_avg_5"`
	LoadAvg15      float64   `json:"load_avg_15"`
	MemTotalBytes  uint64    `json:"mem_total_bytes"`
	MemAvailBytes  uint64    `json:"mem_avail_bytes"`
	MemUsedPct     float64   `json:"mem_used_pct"`
	DiskTotalBytes uint64    `json:"disk_total_bytes"`
	DiskAvailBytes uint64    `json:"disk_avail_bytes"`
	DiskUsedPct    float64   `json:"disk_used_pct"`
	GPUs           []GPUWire `json:"gpus"`
	GamingDetected bool      `json:"gaming_detected"`
}

// GPUWire is the wire form of a single GPU's telemetry.
type GPUWire struct {
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	MemTotalBytes uint64  `json:"mem_total_bytes"`
	MemFreeBytes  uint64  `json:"mem_free_bytes"`
	UtilPct       float64 `json:"util_pct"`
	InUseForGaming bool   `json:"in_use_for_gaming"`
}
