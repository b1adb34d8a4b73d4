/*
Package fakenet contains scripted gRPC connections and a JSON codec used to
test the engine without real nodes.
*/
package fakenet

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type (
	// Call is a recorded unary call or stream opening.
	Call struct {
		Method string
		Body   []byte
	}

	// Handler answers unary calls.
	Handler func(ctx context.Context, method string, body []byte) ([]byte, error)

	// Script describes one server stream: Items are delivered, then Err is
	// returned (io.EOF if nil). OpenErr fails the stream opening itself. Hold
	// keeps the stream open after the items until the context is done.
	Script struct {
		Items   [][]byte
		Err     error
		OpenErr error
		Hold    bool
	}

	// Conn is a scripted connection implementing grpc.ClientConnInterface.
	Conn struct {
		Name string

		mtx     sync.Mutex
		handler Handler
		replies []Reply
		scripts []Script
		calls   []Call
		streams []Call
		closed  bool
	}

	// Reply is one scripted unary answer.
	Reply struct {
		Body []byte
		Err  error
		// Block makes the call wait for the context to be done.
		Block bool
	}
)

// NewConn creates a connection with the given name.
func NewConn(name string) *Conn {
	return &Conn{Name: name}
}

// Unavailable returns a gRPC UNAVAILABLE error.
func Unavailable() error {
	return status.Error(codes.Unavailable, "node is down")
}

// Handle sets the function answering unary calls once scripted replies are
// exhausted.
func (c *Conn) Handle(h Handler) *Conn {
	c.mtx.Lock()
	c.handler = h
	c.mtx.Unlock()
	return c
}

// Push queues unary replies.
func (c *Conn) Push(replies ...Reply) *Conn {
	c.mtx.Lock()
	c.replies = append(c.replies, replies...)
	c.mtx.Unlock()
	return c
}

// PushStream queues stream scripts.
func (c *Conn) PushStream(scripts ...Script) *Conn {
	c.mtx.Lock()
	c.scripts = append(c.scripts, scripts...)
	c.mtx.Unlock()
	return c
}

// Calls returns recorded unary calls.
func (c *Conn) Calls() []Call {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	res := make([]Call, len(c.calls))
	copy(res, c.calls)
	return res
}

// Streams returns recorded stream openings with their filters.
func (c *Conn) Streams() []Call {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	res := make([]Call, len(c.streams))
	copy(res, c.streams)
	return res
}

// Closed tells whether Close was called.
func (c *Conn) Closed() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.closed
}

// Close implements the network.Conn interface.
func (c *Conn) Close() error {
	c.mtx.Lock()
	c.closed = true
	c.mtx.Unlock()
	return nil
}

// Invoke implements the grpc.ClientConnInterface interface.
func (c *Conn) Invoke(ctx context.Context, method string, args any, reply any, _ ...grpc.CallOption) error {
	body, ok := args.([]byte)
	if !ok {
		return fmt.Errorf("unexpected request type %T", args)
	}
	c.mtx.Lock()
	c.calls = append(c.calls, Call{Method: method, Body: body})
	var (
		r   Reply
		h   = c.handler
		has = len(c.replies) > 0
	)
	if has {
		r = c.replies[0]
		c.replies = c.replies[1:]
	}
	c.mtx.Unlock()

	var resp []byte
	switch {
	case has && r.Block:
		<-ctx.Done()
		return status.FromContextError(ctx.Err()).Err()
	case has:
		resp, ok = r.Body, r.Err == nil
		if !ok {
			return r.Err
		}
	case h != nil:
		var err error
		resp, err = h(ctx, method, body)
		if err != nil {
			return err
		}
	default:
		return status.Errorf(codes.Unimplemented, "%s: no reply scripted for %s", c.Name, method)
	}
	dst, ok := reply.(*[]byte)
	if !ok {
		return fmt.Errorf("unexpected reply type %T", reply)
	}
	*dst = resp
	return nil
}

// NewStream implements the grpc.ClientConnInterface interface.
func (c *Conn) NewStream(ctx context.Context, _ *grpc.StreamDesc, method string, _ ...grpc.CallOption) (grpc.ClientStream, error) {
	c.mtx.Lock()
	var (
		s   Script
		has = len(c.scripts) > 0
	)
	if has {
		s = c.scripts[0]
		c.scripts = c.scripts[1:]
	}
	c.mtx.Unlock()

	if !has {
		s = Script{Hold: true}
	}
	if s.OpenErr != nil {
		c.record(method, nil)
		return nil, s.OpenErr
	}
	return &stream{conn: c, ctx: ctx, method: method, script: s}, nil
}

func (c *Conn) record(method string, body []byte) {
	c.mtx.Lock()
	c.streams = append(c.streams, Call{Method: method, Body: body})
	c.mtx.Unlock()
}

type stream struct {
	conn   *Conn
	ctx    context.Context
	method string
	script Script
	pos    int
}

func (s *stream) Header() (metadata.MD, error) { return metadata.MD{}, nil }
func (s *stream) Trailer() metadata.MD         { return metadata.MD{} }
func (s *stream) CloseSend() error             { return nil }
func (s *stream) Context() context.Context     { return s.ctx }

func (s *stream) SendMsg(m any) error {
	body, ok := m.([]byte)
	if !ok {
		return fmt.Errorf("unexpected request type %T", m)
	}
	s.conn.record(s.method, body)
	return nil
}

func (s *stream) RecvMsg(m any) error {
	if err := s.ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}
	if s.pos < len(s.script.Items) {
		dst, ok := m.(*[]byte)
		if !ok {
			return fmt.Errorf("unexpected reply type %T", m)
		}
		*dst = s.script.Items[s.pos]
		s.pos++
		return nil
	}
	if s.script.Hold {
		<-s.ctx.Done()
		return status.FromContextError(s.ctx.Err()).Err()
	}
	if s.script.Err != nil {
		return s.script.Err
	}
	return io.EOF
}
