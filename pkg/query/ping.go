package query

import (
	"context"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// Ping checks that a node answers queries. It asks for the balance of the
// node account, which is free.
type Ping struct {
	node ledger.AccountID
}

// NewPing creates a ping of the given node.
func NewPing(node ledger.AccountID) *Ping {
	return &Ping{node: node}
}

// Execute pings the node.
func (p *Ping) Execute(ctx context.Context, c Client) error {
	return p.ExecuteWithTimeout(ctx, c, 0)
}

// ExecuteWithTimeout pings the node for at most the given time.
func (p *Ping) ExecuteWithTimeout(ctx context.Context, c Client, timeout time.Duration) error {
	_, err := execute.ExecuteWithTimeout[struct{}](ctx, c.ExecEnv(), &pingExecutable{node: p.node, codec: c.Codec()}, timeout)
	return err
}

type pingExecutable struct {
	node  ledger.AccountID
	codec wire.QueryCodec
}

func (x *pingExecutable) NodeAccountIDs() []ledger.AccountID { return []ledger.AccountID{x.node} }

func (x *pingExecutable) TransactionID() *ledger.TransactionID { return nil }

func (x *pingExecutable) RequiresTransactionID() bool { return false }

func (x *pingExecutable) RegenerateTransactionID() (bool, bool) { return false, false }

func (x *pingExecutable) MakeRequest(_ *ledger.TransactionID, _ ledger.AccountID) (*wire.Request, error) {
	body, err := x.codec.EncodeBalanceQuery(wire.QueryHeader{ResponseType: wire.AnswerOnly}, x.node)
	if err != nil {
		return nil, err
	}
	return &wire.Request{Method: wire.MethodCryptoGetBalance, Body: body}, nil
}

func (x *pingExecutable) PreCheckStatus(raw []byte) (ledger.Status, error) {
	h, err := x.codec.DecodeResponseHeader(raw)
	if err != nil {
		return "", err
	}
	return h.PreCheck, nil
}

func (x *pingExecutable) ShouldRetryPreCheck(ledger.Status) bool { return false }

func (x *pingExecutable) ShouldRetry([]byte) bool { return false }

func (x *pingExecutable) MakeResponse([]byte, *wire.Request, ledger.AccountID, *ledger.TransactionID) (struct{}, error) {
	return struct{}{}, nil
}

func (x *pingExecutable) MakeErrorPreCheck(st ledger.Status, _ *ledger.TransactionID) error {
	return &ledger.PreCheckError{Kind: ledger.PreCheckQueryNoPayment, Status: st}
}
