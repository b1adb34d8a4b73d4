/*
Package mirror implements long-lived server streams from mirror nodes. A
subscription reconnects on transient failures and resumes after the last
delivered item, so that consumers see an ordered stream without duplicates.
*/
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/ledger-go/pkg/backoff"
	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/network"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultTimeout is the budget for ShouldRetry reconnects when neither an
// explicit nor Env timeout is given.
const DefaultTimeout = 15 * time.Minute

// bodyResetMessage is what some mirror proxies report for dropped connections.
const bodyResetMessage = "error reading a body from connection: connection reset"

// ErrComplete can be returned by Request.Filter to end the subscription
// without error, when there is nothing left to ask for.
var ErrComplete = errors.New("subscription is complete")

type (
	// Source provides a connection to the mirror network,
	// *network.MirrorNetwork implements it.
	Source interface {
		Connection() (network.Conn, error)
	}

	// Env is the environment subscriptions of one client share.
	Env struct {
		Source Source
		Codec  wire.MirrorCodec
		// Backoff configures reconnection delays.
		Backoff backoff.Config
		// RequestTimeout is the ShouldRetry budget when no explicit
		// timeout is given, DefaultTimeout if zero.
		RequestTimeout time.Duration
		Log            *zap.Logger
		// Sleep waits between reconnects, backoff.Sleep if nil.
		Sleep func(ctx context.Context, d time.Duration) error
	}

	// Request is a streaming request.
	Request[T any] interface {
		Method() string
		// Filter encodes the request body for the current cursor position.
		Filter(c *Cursor) ([]byte, error)
		Decode(raw []byte) (T, error)
		// Position returns the resumption key of an item, false if items
		// have none.
		Position(item T) (time.Time, bool)
		// ShouldRetry tells whether a stream failing with the code can be
		// reopened within the bounded budget.
		ShouldRetry(code codes.Code) bool
	}

	// Cursor tracks the subscription progress. It's updated by the
	// subscription producer and is safe for concurrent reads.
	Cursor struct {
		mtx       sync.Mutex
		last      time.Time
		set       bool
		delivered uint64
	}

	// Subscription is a running stream. Items are delivered in order to
	// the Items channel, it's closed when the subscription ends.
	Subscription[T any] struct {
		id     uuid.UUID
		ctx    context.Context
		cancel context.CancelFunc
		items  chan T
		done   chan struct{}
		cursor *Cursor
		err    error
	}
)

// NewCursor returns a cursor with no position.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Seek sets the last seen position, the stream is resumed right after it.
func (c *Cursor) Seek(last time.Time) {
	c.mtx.Lock()
	c.last, c.set = last, true
	c.mtx.Unlock()
}

// Last returns the last seen position if there is any.
func (c *Cursor) Last() (time.Time, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.last, c.set
}

// Resume returns the start position for a new stream: 1ns after the last
// seen one or the given start if nothing was seen yet. Streams are assumed
// to be inclusive of their start time.
func (c *Cursor) Resume(start time.Time) time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if !c.set {
		return start
	}
	return c.last.Add(time.Nanosecond)
}

// Delivered returns the number of items received over all streams of the
// subscription.
func (c *Cursor) Delivered() uint64 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.delivered
}

func (c *Cursor) advance(pos time.Time, ok bool) {
	c.mtx.Lock()
	if ok {
		c.last, c.set = pos, true
	}
	c.delivered++
	c.mtx.Unlock()
}

// Subscribe starts a subscription from the beginning of the request. timeout
// limits ShouldRetry reconnects, Env.RequestTimeout or DefaultTimeout is used
// if it's zero.
func Subscribe[T any](ctx context.Context, env *Env, req Request[T], timeout time.Duration) *Subscription[T] {
	return SubscribeFrom(ctx, env, req, NewCursor(), timeout)
}

// SubscribeFrom starts a subscription at the given cursor.
func SubscribeFrom[T any](ctx context.Context, env *Env, req Request[T], cursor *Cursor, timeout time.Duration) *Subscription[T] {
	s := newSubscription[T](ctx, uuid.New(), cursor)
	go s.run(env, req, timeout)
	return s
}

// Collect drains the subscription, it returns all items and the terminal
// error.
func Collect[T any](s *Subscription[T]) ([]T, error) {
	var res []T

	for item := range s.Items() {
		res = append(res, item)
	}
	return res, s.Err()
}

func newSubscription[T any](ctx context.Context, id uuid.UUID, cursor *Cursor) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription[T]{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		items:  make(chan T),
		done:   make(chan struct{}),
		cursor: cursor,
	}
}

// ID returns the subscription identifier used in logs.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// Items returns the channel items are delivered to.
func (s *Subscription[T]) Items() <-chan T {
	return s.items
}

// Done is closed when the subscription has ended.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cursor returns the subscription progress.
func (s *Subscription[T]) Cursor() *Cursor {
	return s.cursor
}

// Err waits for the subscription to end and returns its terminal error, nil
// if the server ended the stream.
func (s *Subscription[T]) Err() error {
	<-s.done
	return s.err
}

// Close stops the subscription and releases the stream. It returns the
// terminal error if the subscription had failed before.
func (s *Subscription[T]) Close() error {
	s.cancel()
	err := s.Err()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Subscription[T]) finish(err error) {
	s.err = err
	s.cancel()
	close(s.items)
	close(s.done)
}

func (s *Subscription[T]) run(env *Env, req Request[T], timeout time.Duration) {
	log := env.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.Stringer("subscription", s.id), zap.String("method", req.Method()))
	err := s.loop(env, req, timeout, log)
	switch {
	case err == nil:
		log.Debug("subscription finished", zap.Uint64("items", s.cursor.Delivered()))
	case errors.Is(err, context.Canceled):
		log.Debug("subscription canceled")
	default:
		log.Error("subscription failed", zap.Error(err))
	}
	s.finish(err)
}

func (s *Subscription[T]) loop(env *Env, req Request[T], timeout time.Duration, log *zap.Logger) error {
	if timeout <= 0 {
		timeout = env.RequestTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var (
		cfg   = env.Backoff
		sleep = env.Sleep
	)
	cfg.MaxElapsedTime = timeout
	bounded := backoff.New(cfg)
	unbounded := backoff.Unbounded(env.Backoff)
	if sleep == nil {
		sleep = backoff.Sleep
	}

	for {
		err := s.stream(env, req, func() {
			bounded.Reset()
			unbounded.Reset()
		})
		if err == nil || errors.Is(err, ErrComplete) {
			return nil
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		st, ok := status.FromError(err)
		if !ok {
			return err
		}

		var (
			policy *backoff.Policy
			reason string
		)
		switch {
		case isTransient(st):
			policy, reason = unbounded, "transient"
		case req.ShouldRetry(st.Code()):
			policy, reason = bounded, "retry"
		default:
			return ledger.NewGrpcStatusError(st)
		}
		d, ok := policy.Next()
		if !ok {
			return &ledger.TimedOutError{Cause: err}
		}
		reconnects.WithLabelValues(reason).Inc()
		log.Warn("mirror stream failed, reconnecting",
			zap.Stringer("code", st.Code()),
			zap.String("message", st.Message()),
			zap.Duration("backoff", d))
		if err := sleep(s.ctx, d); err != nil {
			return err
		}
	}
}

// stream runs one server stream until it fails or ends. received is called
// on the first item.
func (s *Subscription[T]) stream(env *Env, req Request[T], received func()) error {
	body, err := req.Filter(s.cursor)
	if err != nil {
		return err
	}
	conn, err := env.Source.Connection()
	if err != nil {
		return fmt.Errorf("failed to connect to mirror network: %w", err)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	st, err := wire.OpenStream(ctx, conn, req.Method(), body)
	if err != nil {
		return err
	}
	for first := true; ; first = false {
		raw, err := st.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if first {
			received()
		}
		item, err := req.Decode(raw)
		if err != nil {
			return fmt.Errorf("failed to decode stream item: %w", err)
		}
		s.cursor.advance(req.Position(item))
		select {
		case s.items <- item:
			delivered.WithLabelValues(req.Method()).Inc()
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

func isTransient(st *status.Status) bool {
	if execute.IsTransient(st) || st.Code() == codes.NotFound {
		return true
	}
	return st.Code() == codes.Unknown && strings.Contains(st.Message(), bodyResetMessage)
}
