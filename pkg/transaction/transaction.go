/*
Package transaction submits signed transactions to consensus nodes and tracks
their outcome.
*/
package transaction

import (
	"context"
	"crypto/sha512"
	"fmt"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/query"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// Defaults of transaction settings.
const (
	DefaultMaxTransactionFee = 2 * ledger.OneHbar
	DefaultValidDuration     = 120 * time.Second
)

// Data is the entity-specific part of a transaction.
type Data interface {
	// Method returns the full gRPC method used to submit the transaction.
	Method() string
	// EncodeBody serializes the transaction body with the given header.
	EncodeBody(h wire.TransactionHeader) ([]byte, error)
}

// Transaction is a state-changing request signed by the operator and
// optional additional signers.
type Transaction struct {
	data          Data
	nodes         []ledger.AccountID
	txID          *ledger.TransactionID
	maxFee        ledger.Hbar
	validDuration time.Duration
	memo          string
	regenerate    *bool
	signers       []ledger.Signer
}

// New creates a transaction with the given body.
func New(data Data) *Transaction {
	return &Transaction{
		data:          data,
		maxFee:        DefaultMaxTransactionFee,
		validDuration: DefaultValidDuration,
	}
}

// SetNodeAccountIDs pins the transaction to the given nodes.
func (t *Transaction) SetNodeAccountIDs(ids []ledger.AccountID) *Transaction {
	t.nodes = ids
	return t
}

// SetTransactionID sets an explicit transaction ID, it's never regenerated.
func (t *Transaction) SetTransactionID(id ledger.TransactionID) *Transaction {
	t.txID = &id
	return t
}

// SetMaxTransactionFee sets the fee limit.
func (t *Transaction) SetMaxTransactionFee(fee ledger.Hbar) *Transaction {
	t.maxFee = fee
	return t
}

// SetTransactionValidDuration sets the validity window.
func (t *Transaction) SetTransactionValidDuration(d time.Duration) *Transaction {
	t.validDuration = d
	return t
}

// SetTransactionMemo sets the memo.
func (t *Transaction) SetTransactionMemo(memo string) *Transaction {
	t.memo = memo
	return t
}

// SetRegenerateTransactionID overrides the client setting for generated IDs.
func (t *Transaction) SetRegenerateTransactionID(v bool) *Transaction {
	t.regenerate = &v
	return t
}

// Sign adds a signer, the operator signs every transaction anyway.
func (t *Transaction) Sign(s ledger.Signer) *Transaction {
	t.signers = append(t.signers, s)
	return t
}

// Execute submits the transaction.
func (t *Transaction) Execute(ctx context.Context, c query.Client) (*Response, error) {
	return t.ExecuteWithTimeout(ctx, c, 0)
}

// ExecuteWithTimeout submits the transaction waiting for at most the given
// time for a node to accept it.
func (t *Transaction) ExecuteWithTimeout(ctx context.Context, c query.Client, timeout time.Duration) (*Response, error) {
	x := &executable{t: t, codec: c.Codec()}
	if op := c.Operator(); op != nil && op.Signer != nil {
		x.signers = append(x.signers, op.Signer)
	}
	x.signers = append(x.signers, t.signers...)
	return execute.ExecuteWithTimeout[*Response](ctx, c.ExecEnv(), x, timeout)
}

// Hash returns the hash identifying signed transaction bytes.
func Hash(signed []byte) []byte {
	h := sha512.Sum384(signed)
	return h[:]
}

type executable struct {
	t       *Transaction
	codec   wire.TransactionCodec
	signers []ledger.Signer
}

func (x *executable) NodeAccountIDs() []ledger.AccountID { return x.t.nodes }

func (x *executable) TransactionID() *ledger.TransactionID { return x.t.txID }

func (x *executable) RequiresTransactionID() bool { return true }

func (x *executable) RegenerateTransactionID() (bool, bool) {
	if x.t.regenerate == nil {
		return false, false
	}
	return *x.t.regenerate, true
}

func (x *executable) MakeRequest(txID *ledger.TransactionID, node ledger.AccountID) (*wire.Request, error) {
	body, err := x.t.data.EncodeBody(wire.TransactionHeader{
		TransactionID: *txID,
		NodeAccountID: node,
		MaxFee:        x.t.maxFee,
		ValidDuration: x.t.validDuration,
		Memo:          x.t.memo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction body: %w", err)
	}
	sigs := make([]wire.SignaturePair, 0, len(x.signers))
	for _, s := range x.signers {
		sig, err := s.Sign(body)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
		sigs = append(sigs, wire.SignaturePair{PublicKey: s.PublicKey(), Signature: sig})
	}
	signed, err := x.codec.EncodeSigned(body, sigs)
	if err != nil {
		return nil, err
	}
	return &wire.Request{Method: x.t.data.Method(), Body: signed, Context: Hash(signed)}, nil
}

func (x *executable) PreCheckStatus(raw []byte) (ledger.Status, error) {
	st, _, err := x.codec.DecodeTransactionResponse(raw)
	return st, err
}

func (x *executable) ShouldRetryPreCheck(ledger.Status) bool { return false }

func (x *executable) ShouldRetry([]byte) bool { return false }

func (x *executable) MakeResponse(_ []byte, req *wire.Request, node ledger.AccountID, txID *ledger.TransactionID) (*Response, error) {
	hash, _ := req.Context.([]byte)
	return &Response{
		NodeAccountID: node,
		TransactionID: *txID,
		Hash:          hash,
	}, nil
}

func (x *executable) MakeErrorPreCheck(st ledger.Status, txID *ledger.TransactionID) error {
	return &ledger.PreCheckError{Kind: ledger.PreCheckTransaction, Status: st, TransactionID: txID}
}
