package mirror

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"go.uber.org/zap"
)

// Reassembly defaults.
const (
	DefaultChunkExpiry    = 15 * time.Minute
	DefaultMaxChunkGroups = 1024
)

type (
	// TopicMessage is a complete topic message, either a single one or
	// assembled from chunks.
	TopicMessage struct {
		// ConsensusTimestamp, RunningHash, RunningHashVersion and
		// SequenceNumber of chunked messages are the ones of the last
		// chunk.
		ConsensusTimestamp time.Time
		Contents           []byte
		RunningHash        []byte
		RunningHashVersion uint64
		SequenceNumber     uint64
		// Chunks is nil for messages that were not split.
		Chunks []TopicMessageChunk
		// Transaction is the initial transaction ID of a chunked message.
		Transaction *ledger.TransactionID
	}

	// TopicMessageChunk describes one chunk of an assembled message.
	TopicMessageChunk struct {
		ConsensusTimestamp time.Time
		ContentSize        int
		RunningHash        []byte
		SequenceNumber     uint64
	}

	// ReassemblerOptions configures chunk reassembly.
	ReassemblerOptions struct {
		// Expiry is the time after the first chunk a group is dropped
		// if it's still incomplete, DefaultChunkExpiry if zero.
		Expiry time.Duration
		// MaxGroups limits the number of incomplete groups kept, the
		// least recently updated one is dropped to make room for a new
		// one. DefaultMaxChunkGroups if zero.
		MaxGroups int
	}

	// Reassembler groups chunks of split messages by their initial
	// transaction ID and emits complete messages. It's not safe for
	// concurrent use.
	Reassembler struct {
		log    *zap.Logger
		expiry time.Duration
		groups *lru.Cache
		now    func() time.Time
	}

	chunkGroup struct {
		tx      ledger.TransactionID
		expires time.Time
		total   int32
		first   time.Time
		chunks  map[int32]wire.TopicResponse
	}
)

// NewReassembler creates a reassembler.
func NewReassembler(log *zap.Logger, opts ReassemblerOptions) *Reassembler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultChunkExpiry
	}
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = DefaultMaxChunkGroups
	}
	groups, _ := lru.New(opts.MaxGroups) // Never errors for positive size.
	return &Reassembler{
		log:    log,
		expiry: opts.Expiry,
		groups: groups,
		now:    time.Now,
	}
}

// Push adds a stream item. It returns a message when the item completes one.
func (r *Reassembler) Push(item wire.TopicResponse) (*TopicMessage, bool) {
	if item.Chunk == nil || item.Chunk.Total <= 1 {
		return singleMessage(item), true
	}

	var (
		now = r.now()
		key = item.Chunk.InitialTransactionID.Key()
		g   *chunkGroup
	)
	if v, ok := r.groups.Peek(key); ok {
		g = v.(*chunkGroup)
		if !now.Before(g.expires) {
			r.groups.Remove(key)
			r.log.Warn("dropping chunk of expired message",
				zap.Stringer("transaction", g.tx),
				zap.Int32("number", item.Chunk.Number),
				zap.Int("received", len(g.chunks)),
				zap.Int32("total", g.total))
			r.sweep(now)
			return nil, false
		}
	}
	r.sweep(now)

	if g == nil {
		g = &chunkGroup{
			tx:      item.Chunk.InitialTransactionID,
			expires: now.Add(r.expiry),
			total:   item.Chunk.Total,
			first:   item.ConsensusTimestamp,
			chunks:  make(map[int32]wire.TopicResponse, item.Chunk.Total),
		}
		if r.groups.Add(key, g) {
			r.log.Warn("too many incomplete messages, dropped the oldest one")
		}
	} else {
		r.groups.Get(key)
	}

	if item.Chunk.Total != g.total {
		r.log.Warn("chunk total mismatch",
			zap.Stringer("transaction", g.tx),
			zap.Int32("expected", g.total),
			zap.Int32("got", item.Chunk.Total))
		if item.Chunk.Total < g.total {
			g.total = item.Chunk.Total
		}
	}
	if _, ok := g.chunks[item.Chunk.Number]; !ok {
		g.chunks[item.Chunk.Number] = item
		if item.ConsensusTimestamp.Before(g.first) {
			g.first = item.ConsensusTimestamp
		}
	}
	if len(g.chunks) < int(g.total) {
		return nil, false
	}
	r.groups.Remove(key)
	return g.assemble(), true
}

// Pending returns the number of incomplete messages.
func (r *Reassembler) Pending() int {
	return r.groups.Len()
}

// EarliestPending returns the consensus timestamp of the earliest chunk of
// all incomplete messages.
func (r *Reassembler) EarliestPending() (time.Time, bool) {
	var (
		res time.Time
		ok  bool
	)
	for _, k := range r.groups.Keys() {
		v, found := r.groups.Peek(k)
		if !found {
			continue
		}
		g := v.(*chunkGroup)
		if !ok || g.first.Before(res) {
			res, ok = g.first, true
		}
	}
	return res, ok
}

func (r *Reassembler) sweep(now time.Time) {
	for _, k := range r.groups.Keys() {
		v, ok := r.groups.Peek(k)
		if !ok {
			continue
		}
		g := v.(*chunkGroup)
		if now.Before(g.expires) {
			continue
		}
		r.groups.Remove(k)
		r.log.Warn("incomplete message expired",
			zap.Stringer("transaction", g.tx),
			zap.Int("received", len(g.chunks)),
			zap.Int32("total", g.total))
	}
}

func (g *chunkGroup) assemble() *TopicMessage {
	var (
		nums   = make([]int32, 0, len(g.chunks))
		size   int
		chunks = make([]TopicMessageChunk, 0, len(g.chunks))
	)
	for n, c := range g.chunks {
		nums = append(nums, n)
		size += len(c.Message)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	contents := make([]byte, 0, size)
	for _, n := range nums {
		c := g.chunks[n]
		contents = append(contents, c.Message...)
		chunks = append(chunks, TopicMessageChunk{
			ConsensusTimestamp: c.ConsensusTimestamp,
			ContentSize:        len(c.Message),
			RunningHash:        c.RunningHash,
			SequenceNumber:     c.SequenceNumber,
		})
	}
	last := g.chunks[nums[len(nums)-1]]
	tx := g.tx
	return &TopicMessage{
		ConsensusTimestamp: last.ConsensusTimestamp,
		Contents:           contents,
		RunningHash:        last.RunningHash,
		RunningHashVersion: last.RunningHashVersion,
		SequenceNumber:     last.SequenceNumber,
		Chunks:             chunks,
		Transaction:        &tx,
	}
}

func singleMessage(item wire.TopicResponse) *TopicMessage {
	return &TopicMessage{
		ConsensusTimestamp: item.ConsensusTimestamp,
		Contents:           item.Message,
		RunningHash:        item.RunningHash,
		RunningHashVersion: item.RunningHashVersion,
		SequenceNumber:     item.SequenceNumber,
	}
}
