package wire

import (
	"context"

	"google.golang.org/grpc"
)

// Request is a serialized unary call ready to be sent to a node.
type Request struct {
	// Method is the full gRPC method name.
	Method string
	Body   []byte
	// Context is kept by the request kind between MakeRequest and
	// MakeResponse (transaction hash, payment details and the like).
	Context any
}

// Invoke performs a unary call with an opaque body.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, body []byte, opts ...grpc.CallOption) ([]byte, error) {
	var resp []byte

	opts = append(opts, grpc.ForceCodec(RawCodec))
	err := conn.Invoke(ctx, method, body, &resp, opts...)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream is a server-streaming call returning opaque items.
type Stream struct {
	cs grpc.ClientStream
}

var serverStream = &grpc.StreamDesc{ServerStreams: true}

// OpenStream starts a server-streaming call sending the given filter.
func OpenStream(ctx context.Context, conn grpc.ClientConnInterface, method string, body []byte, opts ...grpc.CallOption) (*Stream, error) {
	opts = append(opts, grpc.ForceCodec(RawCodec))
	cs, err := conn.NewStream(ctx, serverStream, method, opts...)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(body); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// Recv returns the next item, io.EOF means the server closed the stream
// normally.
func (s *Stream) Recv() ([]byte, error) {
	var item []byte

	if err := s.cs.RecvMsg(&item); err != nil {
		return nil, err
	}
	return item, nil
}
