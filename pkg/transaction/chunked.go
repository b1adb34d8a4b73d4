package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/query"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// Chunking defaults.
const (
	DefaultChunkSize = 1024
	DefaultMaxChunks = 20
)

// ErrTooManyChunks is returned when the payload doesn't fit into the allowed
// number of chunks.
var ErrTooManyChunks = errors.New("message requires too many chunks")

// ChunkData builds the body of one chunk of a chunked transaction.
type ChunkData interface {
	Method() string
	EncodeChunk(h wire.TransactionHeader, chunk []byte, info wire.ChunkInfo) ([]byte, error)
}

// Chunked is a transaction split into several ones carrying parts of a
// payload that is too big for one transaction. Chunks are submitted one by
// one, each next chunk is sent after the receipt of the previous one.
type Chunked struct {
	data      ChunkData
	payload   []byte
	chunkSize int
	maxChunks int
	wait      bool

	nodes   []ledger.AccountID
	txID    *ledger.TransactionID
	maxFee  ledger.Hbar
	memo    string
	signers []ledger.Signer
}

// NewChunked creates a chunked transaction for the given payload.
func NewChunked(data ChunkData, payload []byte) *Chunked {
	return &Chunked{
		data:      data,
		payload:   payload,
		chunkSize: DefaultChunkSize,
		maxChunks: DefaultMaxChunks,
		wait:      true,
		maxFee:    DefaultMaxTransactionFee,
	}
}

// SetChunkSize sets the maximum payload size of one chunk.
func (c *Chunked) SetChunkSize(size int) *Chunked {
	if size > 0 {
		c.chunkSize = size
	}
	return c
}

// SetMaxChunks sets the maximum number of chunks.
func (c *Chunked) SetMaxChunks(n int) *Chunked {
	if n > 0 {
		c.maxChunks = n
	}
	return c
}

// SetWaitForReceipts controls waiting for receipts between chunks, it's on by
// default.
func (c *Chunked) SetWaitForReceipts(v bool) *Chunked {
	c.wait = v
	return c
}

// SetNodeAccountIDs pins all chunks to the given nodes.
func (c *Chunked) SetNodeAccountIDs(ids []ledger.AccountID) *Chunked {
	c.nodes = ids
	return c
}

// SetTransactionID sets the ID of the first chunk.
func (c *Chunked) SetTransactionID(id ledger.TransactionID) *Chunked {
	c.txID = &id
	return c
}

// SetMaxTransactionFee sets the fee limit of every chunk.
func (c *Chunked) SetMaxTransactionFee(fee ledger.Hbar) *Chunked {
	c.maxFee = fee
	return c
}

// SetTransactionMemo sets the memo of every chunk.
func (c *Chunked) SetTransactionMemo(memo string) *Chunked {
	c.memo = memo
	return c
}

// Sign adds a signer to every chunk.
func (c *Chunked) Sign(s ledger.Signer) *Chunked {
	c.signers = append(c.signers, s)
	return c
}

// Chunks returns the number of chunks the payload is split into.
func (c *Chunked) Chunks() int {
	n := (len(c.payload) + c.chunkSize - 1) / c.chunkSize
	if n == 0 {
		n = 1
	}
	return n
}

// Execute submits all chunks and returns the response of the first one.
func (c *Chunked) Execute(ctx context.Context, cl query.Client) (*Response, error) {
	rs, err := c.ExecuteAll(ctx, cl)
	if err != nil {
		return nil, err
	}
	return rs[0], nil
}

// ExecuteAll submits all chunks returning their responses.
func (c *Chunked) ExecuteAll(ctx context.Context, cl query.Client) ([]*Response, error) {
	return c.ExecuteAllWithTimeout(ctx, cl, 0)
}

// ExecuteAllWithTimeout is ExecuteAll with the given timeout applied to each
// chunk and each receipt.
func (c *Chunked) ExecuteAllWithTimeout(ctx context.Context, cl query.Client, timeoutPerChunk time.Duration) ([]*Response, error) {
	total := c.Chunks()
	if total > c.maxChunks {
		return nil, fmt.Errorf("%w: %d chunks of %d bytes needed, %d allowed", ErrTooManyChunks, total, c.chunkSize, c.maxChunks)
	}
	var (
		responses = make([]*Response, 0, total)
		initial   *ledger.TransactionID
	)
	for i := 0; i < total; i++ {
		end := (i + 1) * c.chunkSize
		if end > len(c.payload) {
			end = len(c.payload)
		}
		tx := c.chunkTransaction(chunkBody{
			data:    c.data,
			chunk:   c.payload[i*c.chunkSize : end],
			number:  int32(i + 1),
			total:   int32(total),
			initial: initial,
		})
		switch {
		case initial != nil:
			tx.SetTransactionID(initial.WithValidStartOffset(time.Duration(i)))
		case c.txID != nil:
			tx.SetTransactionID(*c.txID)
		}
		resp, err := tx.ExecuteWithTimeout(ctx, cl, timeoutPerChunk)
		if err != nil {
			return responses, fmt.Errorf("chunk %d/%d: %w", i+1, total, err)
		}
		if initial == nil {
			id := resp.TransactionID
			initial = &id
		}
		responses = append(responses, resp)
		if c.wait {
			if _, err := resp.GetReceiptWithTimeout(ctx, cl, timeoutPerChunk); err != nil {
				return responses, fmt.Errorf("chunk %d/%d receipt: %w", i+1, total, err)
			}
		}
	}
	return responses, nil
}

func (c *Chunked) chunkTransaction(body chunkBody) *Transaction {
	tx := New(body).
		SetNodeAccountIDs(c.nodes).
		SetMaxTransactionFee(c.maxFee).
		SetTransactionMemo(c.memo)
	for _, s := range c.signers {
		tx.Sign(s)
	}
	return tx
}

type chunkBody struct {
	data    ChunkData
	chunk   []byte
	number  int32
	total   int32
	initial *ledger.TransactionID
}

func (b chunkBody) Method() string {
	return b.data.Method()
}

// EncodeBody implements the Data interface, the first chunk is its own
// initial transaction.
func (b chunkBody) EncodeBody(h wire.TransactionHeader) ([]byte, error) {
	initial := h.TransactionID
	if b.initial != nil {
		initial = *b.initial
	}
	return b.data.EncodeChunk(h, b.chunk, wire.ChunkInfo{
		InitialTransactionID: initial,
		Number:               b.number,
		Total:                b.total,
	})
}
