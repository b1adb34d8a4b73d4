package transaction

import (
	"context"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/query"
)

// Response tells which node accepted a transaction.
type Response struct {
	NodeAccountID ledger.AccountID
	TransactionID ledger.TransactionID
	// Hash is the SHA-384 hash of the submitted signed transaction.
	Hash []byte
}

// GetReceiptQuery returns a receipt query for the transaction pinned to the
// node that accepted it, with status validation on.
func (r *Response) GetReceiptQuery() *query.ReceiptQuery {
	return query.NewReceiptQuery(r.TransactionID).
		SetNodeAccountIDs([]ledger.AccountID{r.NodeAccountID}).
		SetValidateStatus(true)
}

// GetReceipt waits for the transaction to reach consensus. A non-SUCCESS
// status makes it fail with *ledger.ReceiptStatusError.
func (r *Response) GetReceipt(ctx context.Context, c query.Client) (ledger.Receipt, error) {
	return r.GetReceiptQuery().Execute(ctx, c)
}

// GetReceiptWithTimeout is GetReceipt waiting for at most the given time.
func (r *Response) GetReceiptWithTimeout(ctx context.Context, c query.Client, timeout time.Duration) (ledger.Receipt, error) {
	return r.GetReceiptQuery().ExecuteWithTimeout(ctx, c, timeout)
}
