package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/cortexhq/cortexd/internal/config"
)

// Pool manages one lazily-created gRPC connection per peer endpoint.
// Peers are identified by their grpc_endpoint (host:port).
type Pool struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	cfg   config.TransportConfig
}

// NewPool builds a Pool bound to the given transport settings.
func NewPool(cfg config.TransportConfig) *Pool {
	return &Pool{
		conns: make(map[string]*grpc.ClientConn),
		cfg:   cfg,
	}
}

func (p *Pool) dialOptions() ([]grpc.DialOption, error) {
	creds, err := p.transportCredentials()
	if err != nil {
		return nil, err
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(p.cfg.MaxMessageSize()),
			grpc.MaxCallSendMsgSize(p.cfg.MaxMessageSize()),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                p.cfg.KeepaliveTime(),
			Timeout:             p.cfg.KeepaliveTimeout(),
			PermitWithoutStream: true,
		}),
	}, nil
}

func (p *Pool) transportCredentials() (credentials.TransportCredentials, error) {
	if !p.cfg.TLSEnabled {
		return insecure.NewCredentials(), nil
	}
	cert, err := tls.LoadX509KeyPair(p.cfg.TLSCertFile, p.cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load node certificate: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if p.cfg.TLSTrustRootFile != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(p.cfg.TLSTrustRootFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read trust root: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: trust root file contains no usable certificates")
		}
		tlsCfg.RootCAs = pool
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return credentials.NewTLS(tlsCfg), nil
}

// GetConnection returns the pooled connection to endpoint, dialing it
// lazily on first use.
func (p *Pool) GetConnection(endpoint string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[endpoint]; ok {
		return conn, nil
	}

	opts, err := p.dialOptions()
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}
	p.conns[endpoint] = conn
	return conn, nil
}

// WaitForReady blocks until the connection to endpoint reaches the
// Ready state or timeout elapses, returning false on timeout.
func (p *Pool) WaitForReady(ctx context.Context, endpoint string, timeout time.Duration) bool {
	conn, err := p.GetConnection(endpoint)
	if err != nil {
		return false
	}
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return true
		}
		if !conn.WaitForStateChange(deadlineCtx, state) {
			return false
		}
	}
}

// Call invokes method against endpoint with req, decoding the reply
// into resp. deadline of zero means no per-call deadline beyond ctx.
func (p *Pool) Call(ctx context.Context, endpoint, method string, req, resp any, deadline time.Duration) error {
	conn, err := p.GetConnection(endpoint)
	if err != nil {
		return err
	}

	callCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	if err := conn.Invoke(callCtx, method, req, resp); err != nil {
		return fmt.Errorf("transport: call %s %s: %w", endpoint, method, err)
	}
	return nil
}

// CloseAll closes every pooled connection.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for endpoint, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("transport: close %s: %w", endpoint, err)
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
