package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/transport"
	"github.com/cortexhq/cortexd/internal/wire"
)

const defaultCallTimeout = 5 * time.Second

func defaultConfigPath() string {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// clusterClient is a thin, single-node gRPC client bound to this
// node's own endpoint: every CLI subcommand that talks to a running
// daemon does so through its local node. That node does not forward
// leader-only operations (e.g. TransferLeadership, DrainNode): on a
// follower they fail and the reply says so.
type clusterClient struct {
	pool     *transport.Pool
	endpoint string
}

func newClusterClient(cfg *config.Config) (*clusterClient, error) {
	if cfg.Node.GRPCEndpoint == "" {
		return nil, fmt.Errorf("node.grpc_endpoint is not set in %s", cfgPath)
	}
	return &clusterClient{
		pool:     transport.NewPool(cfg.Transport),
		endpoint: cfg.Node.GRPCEndpoint,
	}, nil
}

func (c *clusterClient) call(ctx context.Context, method string, req, resp any) error {
	return c.pool.Call(ctx, c.endpoint, method, req, resp, defaultCallTimeout)
}

func (c *clusterClient) GetClusterState(ctx context.Context) (*wire.GetClusterStateResponse, error) {
	resp := &wire.GetClusterStateResponse{}
	if err := c.call(ctx, transport.MethodGetClusterState, &wire.GetClusterStateRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) ListNodes(ctx context.Context) (*wire.ListNodesResponse, error) {
	resp := &wire.ListNodesResponse{}
	if err := c.call(ctx, transport.MethodListNodes, &wire.ListNodesRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) TransferLeadership(ctx context.Context, target string) (*wire.TransferLeadershipResponse, error) {
	resp := &wire.TransferLeadershipResponse{}
	req := &wire.TransferLeadershipRequest{TargetNodeID: target}
	if err := c.call(ctx, transport.MethodTransferLeadership, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) DrainNode(ctx context.Context, nodeID string) (*wire.DrainNodeResponse, error) {
	resp := &wire.DrainNodeResponse{}
	req := &wire.DrainNodeRequest{NodeID: nodeID}
	if err := c.call(ctx, transport.MethodDrainNode, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) GetHealth(ctx context.Context) (*wire.GetHealthResponse, error) {
	resp := &wire.GetHealthResponse{}
	if err := c.call(ctx, transport.MethodGetHealth, &wire.GetHealthRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) GetResources(ctx context.Context) (*wire.GetResourcesResponse, error) {
	resp := &wire.GetResourcesResponse{}
	if err := c.call(ctx, transport.MethodGetResources, &wire.GetResourcesRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) SetSquelch(ctx context.Context, squelched bool) (*wire.SetSquelchResponse, error) {
	resp := &wire.SetSquelchResponse{}
	req := &wire.SetSquelchRequest{Squelched: squelched}
	if err := c.call(ctx, transport.MethodSetSquelch, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) GetSnapshotInfo(ctx context.Context) (*wire.GetSnapshotInfoResponse, error) {
	resp := &wire.GetSnapshotInfoResponse{}
	if err := c.call(ctx, transport.MethodGetSnapshotInfo, &wire.GetSnapshotInfoRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *clusterClient) Close() error {
	return c.pool.CloseAll()
}

// dialedClient loads config and builds a clusterClient for this node's
// endpoint. It makes no RPC itself, so an unreachable daemon surfaces
// as the error of the caller's first call. The caller still owns
// calling Close.
func dialedClient() (*clusterClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newClusterClient(cfg)
}
