// Package mcpsurface is the handler-map boundary an external MCP
// registry dispatches into: a set of named tool functions and a set
// of named resource functions. The resources read only membership/
// cluster-state snapshots or this package's own scratch key-value
// store; among the tools, context_* use that store, run_benchmark
// times local hashing, and messaging_notify hands a payload to the
// gateway. The registry itself — JSON-RPC framing, stdio
// transport, tool/resource listing — lives outside this core; this
// package only supplies the functions it would call.
package mcpsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cortexhq/cortexd/internal/clusterstate"
	"github.com/cortexhq/cortexd/internal/gateway"
	"github.com/cortexhq/cortexd/internal/membership"
)

// ToolHandler services one MCP tool call.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ResourceHandler services one MCP resource read; resources take no
// arguments.
type ResourceHandler func(ctx context.Context) (any, error)

// Surface holds the handler maps and the scratch context store behind
// context_set/context_get/context_list/context_delete. Nothing here
// is replicated through consensus: context values are per-node
// scratch state, not cluster state.
type Surface struct {
	roster    *membership.Roster
	projector *clusterstate.Projector
	gw        *gateway.Gateway

	mu      sync.RWMutex
	context map[string]string
}

// New builds a Surface over the given membership/cluster-state/
// gateway instances. gw may be nil if no messaging gateway is
// configured; messaging_notify then reports unavailable.
func New(roster *membership.Roster, projector *clusterstate.Projector, gw *gateway.Gateway) *Surface {
	return &Surface{
		roster:    roster,
		projector: projector,
		gw:        gw,
		context:   make(map[string]string),
	}
}

// Tools returns the named tool handler map.
func (s *Surface) Tools() map[string]ToolHandler {
	return map[string]ToolHandler{
		"context_set":      s.toolContextSet,
		"context_get":      s.toolContextGet,
		"context_list":     s.toolContextList,
		"context_delete":   s.toolContextDelete,
		"run_benchmark":    s.toolRunBenchmark,
		"messaging_notify": s.toolMessagingNotify,
	}
}

// Resources returns the named resource handler map.
func (s *Surface) Resources() map[string]ResourceHandler {
	return map[string]ResourceHandler{
		"cluster://state":        s.resourceClusterState,
		"cluster://nodes":        s.resourceNodes,
		"cluster://nodes/active": s.resourceActiveNodes,
		"cluster://sessions":     s.resourceSessions,
		"cluster://k8s":          s.resourceK8s,
		"cluster://approvals":    s.resourceApprovals,
		"cluster://context":      s.resourceContext,
	}
}

// --- context_* tools ---

type contextSetArgs struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Surface) toolContextSet(_ context.Context, args json.RawMessage) (any, error) {
	var a contextSetArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("mcpsurface: context_set: invalid arguments: %w", err)
	}
	if a.Key == "" {
		return nil, fmt.Errorf("mcpsurface: context_set: key is required")
	}
	s.mu.Lock()
	s.context[a.Key] = a.Value
	s.mu.Unlock()
	return map[string]any{"ok": true, "key": a.Key}, nil
}

type contextKeyArgs struct {
	Key string `json:"key"`
}

func (s *Surface) toolContextGet(_ context.Context, args json.RawMessage) (any, error) {
	var a contextKeyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("mcpsurface: context_get: invalid arguments: %w", err)
	}
	s.mu.RLock()
	v, ok := s.context[a.Key]
	s.mu.RUnlock()
	if !ok {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{"found": true, "key": a.Key, "value": v}, nil
}

func (s *Surface) toolContextList(_ context.Context, _ json.RawMessage) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.context))
	for k := range s.context {
		keys = append(keys, k)
	}
	return map[string]any{"keys": keys, "count": len(keys)}, nil
}

func (s *Surface) toolContextDelete(_ context.Context, args json.RawMessage) (any, error) {
	var a contextKeyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("mcpsurface: context_delete: invalid arguments: %w", err)
	}
	s.mu.Lock()
	_, existed := s.context[a.Key]
	delete(s.context, a.Key)
	s.mu.Unlock()
	return map[string]any{"deleted": existed, "key": a.Key}, nil
}

// --- run_benchmark tool ---

// BenchHasher abstracts the CPU-bound work run_benchmark times, so
// tests can substitute a trivial stand-in instead of burning real
// cycles.
type BenchHasher interface {
	HashRounds(n int) time.Duration
}

var defaultHasher BenchHasher = sha256Hasher{}

func (s *Surface) toolRunBenchmark(_ context.Context, args json.RawMessage) (any, error) {
	var a struct {
		Rounds int `json:"rounds"`
	}
	if len(args) > 0 {
		_ = json.Unmarshal(args, &a)
	}
	if a.Rounds <= 0 {
		a.Rounds = 200000
	}
	elapsed := defaultHasher.HashRounds(a.Rounds)
	return map[string]any{
		"rounds":       a.Rounds,
		"elapsed_ms":   float64(elapsed.Microseconds()) / 1000.0,
		"rounds_per_s": float64(a.Rounds) / elapsed.Seconds(),
	}, nil
}

// --- messaging_notify tool ---

type messagingNotifyArgs struct {
	Event   string `json:"event"`
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Surface) toolMessagingNotify(ctx context.Context, args json.RawMessage) (any, error) {
	if s.gw == nil {
		return nil, fmt.Errorf("mcpsurface: messaging_notify: no messaging gateway configured")
	}
	var a messagingNotifyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("mcpsurface: messaging_notify: invalid arguments: %w", err)
	}
	if a.Event == "" {
		return nil, fmt.Errorf("mcpsurface: messaging_notify: event is required")
	}
	if !s.gw.IsConnected() {
		return map[string]any{"sent": false, "reason": "gateway not connected (not leader)"}, nil
	}
	s.gw.Notify(ctx, gateway.Payload{
		Event:     gateway.Event(a.Event),
		Timestamp: time.Now(),
		NodeID:    a.NodeID,
		Message:   a.Message,
	})
	return map[string]any{"sent": true}, nil
}

// --- cluster:// resources ---

func (s *Surface) resourceClusterState(_ context.Context) (any, error) {
	return projectState(s.projector.Last()), nil
}

func (s *Surface) resourceNodes(_ context.Context) (any, error) {
	return projectNodes(s.roster.GetAllNodes()), nil
}

func (s *Surface) resourceActiveNodes(_ context.Context) (any, error) {
	return projectNodes(s.roster.GetActiveNodes()), nil
}

// resourceSessions projects the workload layer's running sessions,
// which live entirely outside this core; there is nothing here to
// report beyond the fact that no session tracker is attached.
func (s *Surface) resourceSessions(_ context.Context) (any, error) {
	return map[string]any{
		"sessions": []any{},
		"note":     "session tracking is owned by the workload layer, not the coordination core",
	}, nil
}

// resourceK8s projects the Kubernetes adapter's view, which is an
// external collaborator this core never talks to directly.
func (s *Surface) resourceK8s(_ context.Context) (any, error) {
	return map[string]any{
		"available": false,
		"note":      "the Kubernetes adapter is an external collaborator outside this core",
	}, nil
}

func (s *Surface) resourceApprovals(_ context.Context) (any, error) {
	return projectNodes(s.roster.GetPendingApprovals()), nil
}

func (s *Surface) resourceContext(_ context.Context) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.context))
	for k, v := range s.context {
		out[k] = v
	}
	return map[string]any{"context": out}, nil
}
