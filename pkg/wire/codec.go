/*
Package wire is the boundary between the networking engine and the ledger's
wire schema. The engine only moves opaque byte payloads over gRPC, everything
that needs understanding of message layout goes through the codec interfaces
defined here.
*/
package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodec passes already serialized messages through gRPC as is.
type rawCodec struct{}

// RawCodec is the gRPC codec used for every call made by the engine. It
// accepts []byte (or *[]byte) for requests and *[]byte for responses.
var RawCodec encoding.Codec = rawCodec{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("raw codec can't marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec can't unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// Name returns "proto" so that the content-type stays application/grpc+proto
// for the servers, payloads are serialized protobuf messages anyway.
func (rawCodec) Name() string {
	return "proto"
}
