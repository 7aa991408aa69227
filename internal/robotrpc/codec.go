package robotrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered once at package init so every grpc.ClientConn
// dialed with grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName))
// marshals request/response frames as JSON instead of protobuf. The robot
// fleet library is assumed to speak a JSON-over-gRPC wire format rather than
// generated protobuf messages; this codec is the thin adapter for that.
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

// wireRequest and wireResult are the generic envelope shapes exchanged with
// every Fleet RPC method; concrete per-operation arguments live in Data.
type wireRequest struct {
	Data map[string]any `json:"data,omitempty"`
}

type wireResult struct {
	OK        bool           `json:"ok"`
	ErrorCode int            `json:"error_code"`
	Error     string         `json:"error"`
	Data      map[string]any `json:"data,omitempty"`
}
