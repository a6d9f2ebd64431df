package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/cortexhq/cortexd/internal/activation"
	"github.com/cortexhq/cortexd/internal/clusterstate"
	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/discovery"
	"github.com/cortexhq/cortexd/internal/gateway"
	"github.com/cortexhq/cortexd/internal/health"
	"github.com/cortexhq/cortexd/internal/mcpsurface"
	"github.com/cortexhq/cortexd/internal/membership"
	"github.com/cortexhq/cortexd/internal/raftlog"
	"github.com/cortexhq/cortexd/internal/report"
	"github.com/cortexhq/cortexd/internal/resources"
	"github.com/cortexhq/cortexd/internal/system"
	"github.com/cortexhq/cortexd/internal/transport"
	"github.com/cortexhq/cortexd/internal/wire"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var mcp, invisible, isolated bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the coordination daemon in the foreground",
		Long: `Starts peer discovery, the consensus node, resource and health
telemetry, the node-report pipeline, and the gRPC transport for this
node, blocking until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !invisible {
				fmt.Println(titleStyle.Render(" cortexd ") + " starting node " + cfg.Node.ID)
			}
			return runDaemon(cmd.Context(), cfg, mcp, isolated)
		},
	}

	cmd.Flags().BoolVar(&mcp, "mcp", false, "Build the MCP handler-map surface for an external registry/transport to drive")
	cmd.Flags().BoolVar(&invisible, "invisible", false, "Suppress the startup banner (still logs to stderr)")
	cmd.Flags().BoolVar(&isolated, "isolated", false, "Skip mesh peer discovery and run as a standalone single-node cluster")
	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config, mcp, isolated bool) error {
	cctx := corectx.New()
	if cfg.Node.DataDir != "" {
		if logFile, err := openLogFile(cfg.Node.DataDir); err == nil {
			cctx = corectx.NewWithWriter(logFile)
		} else {
			cctx.Logger.Printf("could not open log file, logging to stderr only: %v", err)
		}
	}

	store, err := raftlog.NewFileStore(cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("open raft log store: %w", err)
	}

	pool := transport.NewPool(cfg.Transport)
	electionMin, electionMax := cfg.Consensus.ElectionTimeoutRange()

	var roster *membership.Roster
	node, err := consensus.New(consensus.Config{
		NodeID:             cfg.Node.ID,
		ElectionTimeoutMin: electionMin,
		ElectionTimeoutMax: electionMax,
		HeartbeatInterval:  cfg.Consensus.HeartbeatInterval(),
		PreVoteEnabled:     cfg.Consensus.PreVoteEnabled,
		SnapshotThreshold:  cfg.Consensus.SnapshotThresholdOrDefault(),
		Apply: func(entry raftlog.LogEntry) {
			roster.Apply(entry)
		},
	}, cctx, store, &transportAdapter{pool: pool})
	if err != nil {
		return fmt.Errorf("start consensus node: %w", err)
	}
	node.SetSnapshotStore(consensus.NewMemSnapshotStore())

	roster = membership.New(cctx, node, cfg.Node.ID, cfg.Discovery.PollInterval(), cfg.Report.FailureGraceMultiple)

	mon := resources.New(cfg.Resources, cctx, nil, nil)
	healthReporter := health.New(cfg.Health, cctx, mon, health.NoTasks{})
	projector := clusterstate.New(cfg.Node.ID, node, roster, clusterstate.NoTasks{})
	pipeline := report.New(cfg.Report, cctx, cfg.Node.ID, node, healthReporter, mon, roster, pool, report.RosterEndpointResolver{Roster: roster})
	gw := gateway.New(cctx, cfg.Notifications)

	controller := activation.New(cctx, node, []activation.Activatable{
		{Name: "gateway", Activate: gw.Connect, Deactivate: gw.Disconnect},
	})

	var poller *discovery.Poller
	if !isolated {
		poller = discovery.New(cfg.Discovery, cctx, cfg.Node.ID, nil)
	}

	if mcp {
		surface := mcpsurface.New(roster, projector, gw)
		tools, resourcesMap := surface.Tools(), surface.Resources()
		cctx.Logger.Printf("mcp: handler-map surface ready (%d tools, %d resources); registry/transport is provided by an external process", len(tools), len(resourcesMap))
	}

	grpcServer, err := transport.NewServer(cfg.Transport)
	if err != nil {
		return fmt.Errorf("build grpc server: %w", err)
	}
	transport.RegisterRaftServer(grpcServer, node)
	transport.RegisterClusterServer(grpcServer, &clusterServer{projector: projector, roster: roster, node: node, pipeline: pipeline})
	transport.RegisterAgentServer(grpcServer, &agentServer{health: healthReporter, resources: mon, node: node, snapshotThreshold: cfg.Consensus.SnapshotThresholdOrDefault()})

	lis, err := transport.Listen(cfg.Node.GRPCEndpoint)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Node.GRPCEndpoint, err)
	}

	node.Start()
	mon.Start()
	healthReporter.Start()
	pipeline.Start()
	controller.Start()
	if poller != nil {
		poller.Start()
	}

	stopCh := make(chan struct{})
	var bg sync.WaitGroup

	// Seed the voting set from whatever membership state already
	// committed (e.g. after a restart), then keep it in lockstep with
	// the roster: every committed join/drain/leave changes who counts
	// toward quorum.
	node.SetPeers(votingPeers(roster.GetActiveNodes(), cfg.Node.ID))
	bg.Add(1)
	go func() {
		defer bg.Done()
		rosterEvents := roster.Subscribe()
		for {
			select {
			case <-stopCh:
				return
			case <-rosterEvents:
				node.SetPeers(votingPeers(roster.GetActiveNodes(), cfg.Node.ID))
			}
		}
	}()

	// Mesh discovery only informs the roster; only the current leader's
	// ReconcileDiscoveryEvent actually proposes anything, so followers
	// harmlessly no-op here.
	if poller != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			discoveryEvents := poller.Subscribe()
			for {
				select {
				case <-stopCh:
					return
				case ev := <-discoveryEvents:
					roster.ReconcileDiscoveryEvent(ev)
				}
			}
		}()
	}

	bg.Add(1)
	go func() {
		defer bg.Done()
		ticker := time.NewTicker(cfg.Discovery.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				roster.SweepStaleNodes()
			}
		}
	}()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- grpcServer.Serve(lis) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cctx.Logger.Printf("shutdown signal received, draining")
	case err := <-serveErrCh:
		if err != nil {
			cctx.Logger.Printf("grpc server exited: %v", err)
		}
	case <-ctx.Done():
	}

	grpcServer.GracefulStop()
	close(stopCh)
	bg.Wait()
	if poller != nil {
		poller.Stop()
	}
	controller.Stop()
	pipeline.Stop()
	healthReporter.Stop()
	mon.Stop()
	node.Stop()
	_ = pool.CloseAll()
	return nil
}

// votingPeers converts the roster's active nodes into the consensus
// voting set, excluding self (the node already counts itself toward
// quorum without being in its own peer list).
func votingPeers(nodes []membership.Node, selfID string) []consensus.Peer {
	peers := make([]consensus.Peer, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeID == selfID || n.GRPCEndpoint == "" {
			continue
		}
		peers = append(peers, consensus.Peer{ID: n.NodeID, Endpoint: n.GRPCEndpoint})
	}
	return peers
}

func logFilePath(dataDir string) string {
	return filepath.Join(dataDir, "cortexd.log")
}

func openLogFile(dataDir string) (*os.File, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(logFilePath(dataDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// transportAdapter satisfies consensus.Transport over the gRPC pool.
type transportAdapter struct{ pool *transport.Pool }

func (t *transportAdapter) SendRequestVote(ctx context.Context, peer consensus.Peer, req *wire.RequestVoteRequest) (*wire.RequestVoteReply, error) {
	resp := &wire.RequestVoteReply{}
	if err := t.pool.Call(ctx, peer.Endpoint, transport.MethodRequestVote, req, resp, 2*time.Second); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *transportAdapter) SendAppendEntries(ctx context.Context, peer consensus.Peer, req *wire.AppendEntriesRequest) (*wire.AppendEntriesReply, error) {
	resp := &wire.AppendEntriesReply{}
	if err := t.pool.Call(ctx, peer.Endpoint, transport.MethodAppendEntries, req, resp, 2*time.Second); err != nil {
		return nil, err
	}
	return resp, nil
}

// clusterServer implements transport.ClusterServer over this node's
// projector, roster, and report pipeline.
type clusterServer struct {
	projector *clusterstate.Projector
	roster    *membership.Roster
	node      *consensus.Node
	pipeline  *report.Pipeline
}

func (s *clusterServer) GetClusterState(ctx context.Context, req *wire.GetClusterStateRequest) (*wire.GetClusterStateResponse, error) {
	resp := s.projector.Recompute().ToWire()
	return &resp, nil
}

func (s *clusterServer) ListNodes(ctx context.Context, req *wire.ListNodesRequest) (*wire.ListNodesResponse, error) {
	nodes := s.roster.GetAllNodes()
	out := make([]wire.NodeInfoWire, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ToWire())
	}
	return &wire.ListNodesResponse{Nodes: out}, nil
}

func (s *clusterServer) JoinCluster(ctx context.Context, req *wire.JoinClusterRequest) (*wire.JoinClusterResponse, error) {
	if err := s.roster.Join(req.Node); err != nil {
		return &wire.JoinClusterResponse{Accepted: false, LeaderID: s.node.GetLeaderID(), Error: err.Error()}, nil
	}
	return &wire.JoinClusterResponse{Accepted: true, LeaderID: s.node.GetLeaderID()}, nil
}

func (s *clusterServer) ApproveNode(ctx context.Context, req *wire.ApproveNodeRequest) (*wire.ApproveNodeResponse, error) {
	if err := s.roster.Approve(req.NodeID); err != nil {
		return &wire.ApproveNodeResponse{Success: false, LeaderID: s.node.GetLeaderID(), Error: err.Error()}, nil
	}
	return &wire.ApproveNodeResponse{Success: true, LeaderID: s.node.GetLeaderID()}, nil
}

func (s *clusterServer) DrainNode(ctx context.Context, req *wire.DrainNodeRequest) (*wire.DrainNodeResponse, error) {
	if err := s.roster.Drain(req.NodeID); err != nil {
		return &wire.DrainNodeResponse{Success: false, LeaderID: s.node.GetLeaderID(), Error: err.Error()}, nil
	}
	return &wire.DrainNodeResponse{Success: true, LeaderID: s.node.GetLeaderID()}, nil
}

func (s *clusterServer) TransferLeadership(ctx context.Context, req *wire.TransferLeadershipRequest) (*wire.TransferLeadershipResponse, error) {
	ok, msg := s.node.TransferLeadership(req.TargetNodeID)
	return &wire.TransferLeadershipResponse{Success: ok, Message: msg}, nil
}

func (s *clusterServer) ReportHealth(ctx context.Context, req *wire.ReportHealthRequest) (*wire.ReportHealthResponse, error) {
	return s.pipeline.ReportHealth(ctx, req)
}

// agentServer implements transport.AgentServer over this node's
// health reporter, resource monitor, and consensus node.
type agentServer struct {
	health            *health.Reporter
	resources         *resources.Monitor
	node              *consensus.Node
	snapshotThreshold int
}

func (s *agentServer) GetHealth(ctx context.Context, req *wire.GetHealthRequest) (*wire.GetHealthResponse, error) {
	return &wire.GetHealthResponse{Status: s.health.Last().ToWire()}, nil
}

func (s *agentServer) GetResources(ctx context.Context, req *wire.GetResourcesRequest) (*wire.GetResourcesResponse, error) {
	snap, _ := s.resources.Last()
	return &wire.GetResourcesResponse{Snapshot: snap.ToWire()}, nil
}

func (s *agentServer) SetSquelch(ctx context.Context, req *wire.SetSquelchRequest) (*wire.SetSquelchResponse, error) {
	if req.Squelched {
		system.Squelch()
	} else {
		system.Unsquelch()
	}
	return &wire.SetSquelchResponse{Squelched: system.IsSquelched()}, nil
}

func (s *agentServer) GetSnapshotInfo(ctx context.Context, req *wire.GetSnapshotInfoRequest) (*wire.GetSnapshotInfoResponse, error) {
	snap, has, logLen := s.node.SnapshotInfo()
	return &wire.GetSnapshotInfoResponse{
		LastIncludedIndex: snap.LastIncludedIndex,
		LastIncludedTerm:  snap.LastIncludedTerm,
		HasSnapshot:       has,
		LogLength:         logLen,
		SnapshotThreshold: s.snapshotThreshold,
	}, nil
}
