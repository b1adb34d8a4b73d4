package query

import (
	"context"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// ReceiptQuery polls for the receipt of a transaction until it reaches
// consensus. It's free.
type ReceiptQuery struct {
	txID       ledger.TransactionID
	nodes      []ledger.AccountID
	validate   bool
	children   bool
	duplicates bool
}

// NewReceiptQuery creates a receipt query for the given transaction.
func NewReceiptQuery(id ledger.TransactionID) *ReceiptQuery {
	return &ReceiptQuery{txID: id}
}

// SetNodeAccountIDs pins the query to the given nodes.
func (q *ReceiptQuery) SetNodeAccountIDs(ids []ledger.AccountID) *ReceiptQuery {
	q.nodes = ids
	return q
}

// SetValidateStatus makes non-SUCCESS receipts fail with
// *ledger.ReceiptStatusError.
func (q *ReceiptQuery) SetValidateStatus(v bool) *ReceiptQuery {
	q.validate = v
	return q
}

// SetIncludeChildren requests receipts of child transactions.
func (q *ReceiptQuery) SetIncludeChildren(v bool) *ReceiptQuery {
	q.children = v
	return q
}

// SetIncludeDuplicates requests receipts of duplicate transactions.
func (q *ReceiptQuery) SetIncludeDuplicates(v bool) *ReceiptQuery {
	q.duplicates = v
	return q
}

// TransactionID returns the ID of the transaction the receipt is
// requested for.
func (q *ReceiptQuery) TransactionID() ledger.TransactionID {
	return q.txID
}

// Execute polls for the receipt.
func (q *ReceiptQuery) Execute(ctx context.Context, c Client) (ledger.Receipt, error) {
	return q.ExecuteWithTimeout(ctx, c, 0)
}

// ExecuteWithTimeout polls for the receipt for at most the given time.
func (q *ReceiptQuery) ExecuteWithTimeout(ctx context.Context, c Client, timeout time.Duration) (ledger.Receipt, error) {
	return execute.ExecuteWithTimeout[ledger.Receipt](ctx, c.ExecEnv(), &receiptExecutable{q: q, codec: c.Codec()}, timeout)
}

type receiptExecutable struct {
	q     *ReceiptQuery
	codec wire.QueryCodec
}

func (x *receiptExecutable) NodeAccountIDs() []ledger.AccountID { return x.q.nodes }

func (x *receiptExecutable) TransactionID() *ledger.TransactionID { return nil }

func (x *receiptExecutable) RequiresTransactionID() bool { return false }

func (x *receiptExecutable) RegenerateTransactionID() (bool, bool) { return false, false }

func (x *receiptExecutable) MakeRequest(_ *ledger.TransactionID, _ ledger.AccountID) (*wire.Request, error) {
	body, err := x.codec.EncodeReceiptQuery(wire.QueryHeader{ResponseType: wire.AnswerOnly}, wire.ReceiptFilter{
		TransactionID:     x.q.txID,
		IncludeChildren:   x.q.children,
		IncludeDuplicates: x.q.duplicates,
	})
	if err != nil {
		return nil, err
	}
	return &wire.Request{Method: wire.MethodGetTransactionReceipts, Body: body}, nil
}

func (x *receiptExecutable) PreCheckStatus(raw []byte) (ledger.Status, error) {
	h, err := x.codec.DecodeResponseHeader(raw)
	if err != nil {
		return "", err
	}
	return h.PreCheck, nil
}

func (x *receiptExecutable) ShouldRetryPreCheck(st ledger.Status) bool {
	return st == ledger.StatusReceiptNotFound || st == ledger.StatusRecordNotFound
}

// ShouldRetry tells whether the receipt is not final yet.
func (x *receiptExecutable) ShouldRetry(raw []byte) bool {
	r, err := x.codec.DecodeReceipt(raw)
	return err == nil && r.Status == ledger.StatusUnknown
}

func (x *receiptExecutable) MakeResponse(raw []byte, _ *wire.Request, _ ledger.AccountID, _ *ledger.TransactionID) (ledger.Receipt, error) {
	r, err := x.codec.DecodeReceipt(raw)
	if err != nil {
		return ledger.Receipt{}, err
	}
	if r.TransactionID == nil {
		id := x.q.txID
		r.TransactionID = &id
	}
	if x.q.validate && r.Status != ledger.StatusSuccess {
		id := x.q.txID
		return r, &ledger.ReceiptStatusError{Status: r.Status, TransactionID: &id}
	}
	return r, nil
}

func (x *receiptExecutable) MakeErrorPreCheck(st ledger.Status, _ *ledger.TransactionID) error {
	id := x.q.txID
	return &ledger.PreCheckError{Kind: ledger.PreCheckQuery, Status: st, TransactionID: &id}
}
