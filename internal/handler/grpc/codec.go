// Package grpc exposes a control-surface gRPC service over the runtime
// facade, wired with a hand-registered grpc.ServiceDesc and a JSON
// encoding.Codec instead of protoc-generated message types and stubs —
// every method still crosses gRPC's real framing, compression, and
// interceptor chain, it just carries JSON request/response bodies rather
// than protobuf wire bytes. The grpc-ecosystem/go-grpc-middleware/v2
// recovery interceptor is wired unchanged around it.
package grpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "actorcore-json"

// jsonCodec implements the original encoding.Codec interface (not the
// newer encoding.CodecV2) and is registered with encoding.RegisterCodec,
// so every control-surface RPC is a plain JSON object on the wire instead
// of requiring generated protobuf marshalers.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("actorcore-json: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("actorcore-json: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
