package query

import (
	"context"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// costQuery asks a node for the cost of a query without paying for it.
type costQuery[T any] struct {
	q     *Query[T]
	codec wire.QueryCodec
}

// Cost returns the current cost of the query as reported by the network.
func (q *Query[T]) Cost(ctx context.Context, c Client) (ledger.Hbar, error) {
	return q.cost(ctx, c, 0)
}

func (q *Query[T]) cost(ctx context.Context, c Client, timeout time.Duration) (ledger.Hbar, error) {
	return execute.ExecuteWithTimeout[ledger.Hbar](ctx, c.ExecEnv(), &costQuery[T]{q: q, codec: c.Codec()}, timeout)
}

func (x *costQuery[T]) NodeAccountIDs() []ledger.AccountID { return x.q.nodes }

func (x *costQuery[T]) TransactionID() *ledger.TransactionID { return nil }

func (x *costQuery[T]) RequiresTransactionID() bool { return false }

func (x *costQuery[T]) RegenerateTransactionID() (bool, bool) { return false, false }

func (x *costQuery[T]) MakeRequest(_ *ledger.TransactionID, _ ledger.AccountID) (*wire.Request, error) {
	body, err := x.q.data.Encode(wire.QueryHeader{ResponseType: wire.CostAnswer})
	if err != nil {
		return nil, err
	}
	return &wire.Request{Method: x.q.data.Method(), Body: body}, nil
}

func (x *costQuery[T]) PreCheckStatus(raw []byte) (ledger.Status, error) {
	h, err := x.codec.DecodeResponseHeader(raw)
	if err != nil {
		return "", err
	}
	return h.PreCheck, nil
}

func (x *costQuery[T]) ShouldRetryPreCheck(ledger.Status) bool { return false }

func (x *costQuery[T]) ShouldRetry([]byte) bool { return false }

func (x *costQuery[T]) MakeResponse(raw []byte, _ *wire.Request, _ ledger.AccountID, _ *ledger.TransactionID) (ledger.Hbar, error) {
	h, err := x.codec.DecodeResponseHeader(raw)
	if err != nil {
		return 0, err
	}
	return h.Cost, nil
}

func (x *costQuery[T]) MakeErrorPreCheck(st ledger.Status, _ *ledger.TransactionID) error {
	return &ledger.PreCheckError{Kind: ledger.PreCheckQueryNoPayment, Status: st}
}
