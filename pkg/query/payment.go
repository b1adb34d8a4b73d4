package query

import (
	"fmt"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

const (
	// PaymentMaxFee is the transaction fee limit of query payments.
	PaymentMaxFee = ledger.OneHbar
	// PaymentValidDuration is the validity window of query payments.
	PaymentValidDuration = 120 * time.Second
)

// makePayment creates a signed transfer of amount from the operator to the
// node serving the query.
func makePayment(codec wire.TransactionCodec, op *ledger.Operator, txID ledger.TransactionID, node ledger.AccountID, amount ledger.Hbar) ([]byte, error) {
	body, err := codec.EncodeTransferBody(wire.TransactionHeader{
		TransactionID: txID,
		NodeAccountID: node,
		MaxFee:        PaymentMaxFee,
		ValidDuration: PaymentValidDuration,
	}, []wire.Transfer{
		{AccountID: op.AccountID, Amount: -amount},
		{AccountID: node, Amount: amount},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment: %w", err)
	}
	sig, err := op.Signer.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payment: %w", err)
	}
	return codec.EncodeSigned(body, []wire.SignaturePair{{PublicKey: op.Signer.PublicKey(), Signature: sig}})
}
