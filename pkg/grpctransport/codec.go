// Package grpctransport is the node protocol sender and remote-process-
// group transport of §4.10/§4.11: real google.golang.org/grpc connections
// carrying json-iterator-encoded payloads through a custom registered
// codec, in place of hand-generated protobuf stubs — the core has no
// .proto compiler step, so messages are plain Go structs and the codec
// does the encoding grpc would otherwise delegate to generated marshal
// methods.
package grpctransport

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

const CodecName = "flowctl-json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawCodec marshals any Go value with json-iterator; it is registered
// globally with grpc's encoding package so both client and server pick it
// up via the "flowctl-json" content-subtype.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (rawCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
