package grpcclient

import "encoding/json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec using
// encoding/json, so this package's hand-written wire structs can travel
// over a real gRPC streaming connection without generated protobuf
// marshaling code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

const jsonCodecName = "json"
