// Package transport wires up the gRPC layer: connection pooling,
// request/reply dispatch, and the server side that exposes
// RaftService, ClusterService, and the core's AgentService projection
// slice. No protobuf code generation runs in this build, so messages
// are plain Go structs (internal/wire) carried over a hand-registered
// JSON grpc.Codec instead of generated stubs, using the same
// grpc.Server/grpc.NewClient primitives as any hand-rolled gRPC
// service.
package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is registered with grpc's encoding package and selected on
// outgoing calls via grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// jsonCodec implements encoding.Codec for plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("transport: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
