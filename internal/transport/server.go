package transport

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"

	"github.com/cortexhq/cortexd/internal/config"
	"github.com/cortexhq/cortexd/internal/wire"
)

// Fully-qualified method names shared between the client-side Pool.Call
// sites and the server-side grpc.ServiceDesc registrations below.
const (
	MethodRequestVote   = "/cortexd.RaftService/RequestVote"
	MethodAppendEntries = "/cortexd.RaftService/AppendEntries"

	MethodGetClusterState     = "/cortexd.ClusterService/GetClusterState"
	MethodListNodes           = "/cortexd.ClusterService/ListNodes"
	MethodJoinCluster         = "/cortexd.ClusterService/JoinCluster"
	MethodApproveNode         = "/cortexd.ClusterService/ApproveNode"
	MethodDrainNode           = "/cortexd.ClusterService/DrainNode"
	MethodTransferLeadership  = "/cortexd.ClusterService/TransferLeadership"
	MethodReportHealth        = "/cortexd.ClusterService/ReportHealth"

	MethodGetHealth       = "/cortexd.AgentService/GetHealth"
	MethodGetResources    = "/cortexd.AgentService/GetResources"
	MethodSetSquelch      = "/cortexd.AgentService/SetSquelch"
	MethodGetSnapshotInfo = "/cortexd.AgentService/GetSnapshotInfo"
)

// RaftServer is implemented by internal/consensus.
type RaftServer interface {
	RequestVote(ctx context.Context, req *wire.RequestVoteRequest) (*wire.RequestVoteReply, error)
	AppendEntries(ctx context.Context, req *wire.AppendEntriesRequest) (*wire.AppendEntriesReply, error)
}

// ClusterServer is implemented by internal/membership and internal/clusterstate.
type ClusterServer interface {
	GetClusterState(ctx context.Context, req *wire.GetClusterStateRequest) (*wire.GetClusterStateResponse, error)
	ListNodes(ctx context.Context, req *wire.ListNodesRequest) (*wire.ListNodesResponse, error)
	JoinCluster(ctx context.Context, req *wire.JoinClusterRequest) (*wire.JoinClusterResponse, error)
	ApproveNode(ctx context.Context, req *wire.ApproveNodeRequest) (*wire.ApproveNodeResponse, error)
	DrainNode(ctx context.Context, req *wire.DrainNodeRequest) (*wire.DrainNodeResponse, error)
	TransferLeadership(ctx context.Context, req *wire.TransferLeadershipRequest) (*wire.TransferLeadershipResponse, error)
	ReportHealth(ctx context.Context, req *wire.ReportHealthRequest) (*wire.ReportHealthResponse, error)
}

// AgentServer is implemented by internal/health and internal/resources,
// plus the node-local squelch/snapshot introspection cmd/cortexd uses.
type AgentServer interface {
	GetHealth(ctx context.Context, req *wire.GetHealthRequest) (*wire.GetHealthResponse, error)
	GetResources(ctx context.Context, req *wire.GetResourcesRequest) (*wire.GetResourcesResponse, error)
	SetSquelch(ctx context.Context, req *wire.SetSquelchRequest) (*wire.SetSquelchResponse, error)
	GetSnapshotInfo(ctx context.Context, req *wire.GetSnapshotInfoRequest) (*wire.GetSnapshotInfoResponse, error)
}

func unary[Req, Resp any](handle func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return handle(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv}
		wrapped := func(ctx context.Context, reqIface any) (any, error) {
			return handle(ctx, reqIface.(*Req))
		}
		return interceptor(ctx, req, info, wrapped)
	}
}

// RegisterRaftServer adds RaftService to s.
func RegisterRaftServer(s *grpc.Server, impl RaftServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "cortexd.RaftService",
		HandlerType: (*RaftServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "RequestVote",
				Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
					return unary(impl.RequestVote)(srv, ctx, dec, i)
				},
			},
			{
				MethodName: "AppendEntries",
				Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
					return unary(impl.AppendEntries)(srv, ctx, dec, i)
				},
			},
		},
	}, impl)
}

// RegisterClusterServer adds ClusterService to s.
func RegisterClusterServer(s *grpc.Server, impl ClusterServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "cortexd.ClusterService",
		HandlerType: (*ClusterServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetClusterState", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.GetClusterState)(srv, ctx, dec, i)
			}},
			{MethodName: "ListNodes", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.ListNodes)(srv, ctx, dec, i)
			}},
			{MethodName: "JoinCluster", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.JoinCluster)(srv, ctx, dec, i)
			}},
			{MethodName: "ApproveNode", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.ApproveNode)(srv, ctx, dec, i)
			}},
			{MethodName: "DrainNode", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.DrainNode)(srv, ctx, dec, i)
			}},
			{MethodName: "TransferLeadership", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.TransferLeadership)(srv, ctx, dec, i)
			}},
			{MethodName: "ReportHealth", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.ReportHealth)(srv, ctx, dec, i)
			}},
		},
	}, impl)
}

// RegisterAgentServer adds AgentService to s.
func RegisterAgentServer(s *grpc.Server, impl AgentServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "cortexd.AgentService",
		HandlerType: (*AgentServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetHealth", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.GetHealth)(srv, ctx, dec, i)
			}},
			{MethodName: "GetResources", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.GetResources)(srv, ctx, dec, i)
			}},
			{MethodName: "SetSquelch", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.SetSquelch)(srv, ctx, dec, i)
			}},
			{MethodName: "GetSnapshotInfo", Handler: func(srv any, ctx context.Context, dec func(any) error, i grpc.UnaryServerInterceptor) (any, error) {
				return unary(impl.GetSnapshotInfo)(srv, ctx, dec, i)
			}},
		},
	}, impl)
}

// NewServer builds the grpc.Server used to host all three services,
// applying the same message-size and TLS settings as the Pool's
// client side.
func NewServer(cfg config.TransportConfig) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.MaxMessageSize()),
		grpc.MaxSendMsgSize(cfg.MaxMessageSize()),
	}
	if cfg.TLSEnabled {
		pool := &Pool{cfg: cfg}
		creds, err := pool.transportCredentials()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	}
	return grpc.NewServer(opts...), nil
}

// Listen opens the TCP listener the server will Serve on.
func Listen(address string) (net.Listener, error) {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", address, err)
	}
	return lis, nil
}
