package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LeaderTransitionsTotal tracks role transitions of the consensus node.
	LeaderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexd_consensus_role_transitions_total",
			Help: "Total number of consensus role transitions",
		},
		[]string{"role"},
	)

	// ElectionsStartedTotal tracks how many elections this node has started.
	ElectionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cortexd_consensus_elections_started_total",
			Help: "Total number of elections started by this node",
		},
	)

	// CommitIndex tracks the current commit index of the consensus log.
	CommitIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexd_consensus_commit_index",
			Help: "Current commitIndex of the replicated log",
		},
	)

	// CurrentTerm tracks the current consensus term.
	CurrentTerm = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexd_consensus_current_term",
			Help: "Current consensus term",
		},
	)

	// AppendEntriesLatency tracks replication RPC latency per peer.
	AppendEntriesLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortexd_consensus_append_entries_seconds",
			Help:    "Latency of AppendEntries RPCs to peers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer", "outcome"},
	)

	// DiscoveryEventsTotal tracks peer discovery events emitted by the mesh poller.
	DiscoveryEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexd_discovery_events_total",
			Help: "Total number of peer discovery events emitted",
		},
		[]string{"kind"},
	)

	// ActiveNodes tracks the number of active nodes known to membership.
	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexd_membership_active_nodes",
			Help: "Number of nodes currently in active status",
		},
	)

	// HealthStatus reports 1 when this node considers itself healthy, 0 otherwise.
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cortexd_health_status",
			Help: "1 if this node is healthy, 0 otherwise",
		},
	)

	// ActivationEventsTotal tracks leader-gated singleton activate/deactivate calls.
	ActivationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortexd_activation_events_total",
			Help: "Total number of activate/deactivate calls on leader-gated singletons",
		},
		[]string{"singleton", "action"},
	)
)
