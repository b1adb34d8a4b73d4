package mirror

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/storage"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// Client provides the mirror environment, *client.Client implements it.
type Client interface {
	MirrorEnv() *Env
}

// TopicQuery subscribes to messages of a consensus topic.
type TopicQuery struct {
	TopicID ledger.TopicID
	// StartTime is inclusive, zero means from the first message.
	StartTime time.Time
	// EndTime is exclusive, zero means the subscription is open-ended.
	EndTime time.Time
	// Limit is the maximum number of messages (chunks count separately),
	// zero means no limit.
	Limit uint64

	reassembly  ReassemblerOptions
	shouldRetry func(codes.Code) bool
	store       storage.Store
	key         []byte
}

type topicRequest struct {
	q     *TopicQuery
	codec wire.MirrorCodec
}

// NewTopicQuery creates a query for all messages of the topic.
func NewTopicQuery(topic ledger.TopicID) *TopicQuery {
	return &TopicQuery{TopicID: topic}
}

// SetReassemblyOptions configures chunked message reassembly.
func (q *TopicQuery) SetReassemblyOptions(opts ReassemblerOptions) *TopicQuery {
	q.reassembly = opts
	return q
}

// SetShouldRetry sets the function telling which gRPC codes allow to reopen
// the stream within the bounded budget. Codes that are always retried are
// not passed to it.
func (q *TopicQuery) SetShouldRetry(f func(codes.Code) bool) *TopicQuery {
	q.shouldRetry = f
	return q
}

// SetCheckpoint makes subscriptions resume from the position saved in the
// store under the given key and save their progress there. Messages can be
// delivered again after a restart, but never skipped.
func (q *TopicQuery) SetCheckpoint(store storage.Store, key []byte) *TopicQuery {
	q.store, q.key = store, key
	return q
}

// Subscribe starts the subscription, the Env request timeout limits
// reconnects that are not always retried.
func (q *TopicQuery) Subscribe(ctx context.Context, c Client) (*Subscription[TopicMessage], error) {
	return q.SubscribeWithTimeout(ctx, c, 0)
}

// SubscribeWithTimeout starts the subscription with the given reconnection
// budget.
func (q *TopicQuery) SubscribeWithTimeout(ctx context.Context, c Client, timeout time.Duration) (*Subscription[TopicMessage], error) {
	env := c.MirrorEnv()
	cursor := NewCursor()
	if q.store != nil {
		last, err := LoadCheckpoint(q.store, q.key)
		switch {
		case err == nil:
			cursor.Seek(last)
		case !errors.Is(err, storage.ErrKeyNotFound):
			return nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
	}

	var (
		log = env.Log
		cp  = *q
		raw = SubscribeFrom[wire.TopicResponse](ctx, env, &topicRequest{q: &cp, codec: env.Codec}, cursor, timeout)
	)
	octx, ocancel := context.WithCancel(ctx)
	out := &Subscription[TopicMessage]{
		id:  raw.id,
		ctx: octx,
		cancel: func() {
			raw.cancel()
			ocancel()
		},
		items:  make(chan TopicMessage),
		done:   make(chan struct{}),
		cursor: cursor,
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := NewReassembler(log.With(zap.Stringer("subscription", raw.id)), q.reassembly)
	go assemble(out, raw, r, &cp)
	return out, nil
}

// Execute collects all messages. The query must have an end time or a limit
// for it to ever return.
func (q *TopicQuery) Execute(ctx context.Context, c Client) ([]TopicMessage, error) {
	s, err := q.Subscribe(ctx, c)
	if err != nil {
		return nil, err
	}
	return Collect(s)
}

func assemble(s *Subscription[TopicMessage], raw *Subscription[wire.TopicResponse], r *Reassembler, q *TopicQuery) {
	var err error

loop:
	for item := range raw.items {
		m, ok := r.Push(item)
		if !ok {
			continue
		}
		select {
		case s.items <- *m:
		case <-s.ctx.Done():
			break loop
		}
		if q.store == nil {
			continue
		}
		// The stream is resumed after the checkpoint, so it must not pass
		// the first chunk of incomplete messages.
		cp := item.ConsensusTimestamp
		if first, ok := r.EarliestPending(); ok && !first.After(cp) {
			cp = first.Add(-time.Nanosecond)
		}
		if err = SaveCheckpoint(q.store, q.key, cp); err != nil {
			err = fmt.Errorf("failed to save checkpoint: %w", err)
			break
		}
	}
	raw.cancel()
	rawErr := raw.Err()
	if err == nil {
		err = rawErr
	}
	s.finish(err)
}

// CheckpointKey returns the default checkpoint key of the topic.
func CheckpointKey(topic ledger.TopicID) []byte {
	return []byte("topic:" + topic.String())
}

// LoadCheckpoint returns the position saved under the key.
func LoadCheckpoint(store storage.Store, key []byte) (time.Time, error) {
	v, err := store.Get(key)
	if err != nil {
		return time.Time{}, err
	}
	if len(v) != 8 {
		return time.Time{}, fmt.Errorf("invalid checkpoint length %d", len(v))
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(v))).UTC(), nil
}

// SaveCheckpoint saves the position under the key.
func SaveCheckpoint(store storage.Store, key []byte, last time.Time) error {
	var v [8]byte

	binary.BigEndian.PutUint64(v[:], uint64(last.UnixNano()))
	return store.Put(key, v[:])
}

func (t *topicRequest) Method() string {
	return wire.MethodSubscribeTopic
}

func (t *topicRequest) Filter(c *Cursor) ([]byte, error) {
	f := wire.TopicFilter{
		TopicID:   t.q.TopicID,
		StartTime: c.Resume(t.q.StartTime),
		EndTime:   t.q.EndTime,
	}
	if t.q.Limit != 0 {
		delivered := c.Delivered()
		if delivered >= t.q.Limit {
			return nil, ErrComplete
		}
		f.Limit = t.q.Limit - delivered
	}
	if !t.q.EndTime.IsZero() && !f.StartTime.Before(t.q.EndTime) {
		return nil, ErrComplete
	}
	return t.codec.EncodeTopicQuery(f)
}

func (t *topicRequest) Decode(raw []byte) (wire.TopicResponse, error) {
	return t.codec.DecodeTopicResponse(raw)
}

func (t *topicRequest) Position(item wire.TopicResponse) (time.Time, bool) {
	return item.ConsensusTimestamp, true
}

func (t *topicRequest) ShouldRetry(code codes.Code) bool {
	if t.q.shouldRetry != nil {
		return t.q.shouldRetry(code)
	}
	return false
}
