/*
Package query implements paid and free queries to consensus nodes: cost
negotiation, query payments, receipt polling and node pings.
*/
package query

import (
	"context"
	"errors"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// DefaultMaxQueryPayment is the maximum automatically negotiated query
// payment used when neither the query nor the client set one.
const DefaultMaxQueryPayment = ledger.OneHbar

// ErrNoOperator is returned for paid queries executed by a client without an
// operator to sign payments.
var ErrNoOperator = errors.New("query requires payment, but the client has no operator")

type (
	// Client is what requests need from the client executing them,
	// *client.Client implements it.
	Client interface {
		ExecEnv() *execute.Env
		Codec() wire.Codec
		// Operator returns nil if the client has no operator.
		Operator() *ledger.Operator
		// MaxQueryPayment returns the default payment limit for queries
		// without explicit payments, zero means DefaultMaxQueryPayment.
		MaxQueryPayment() ledger.Hbar
	}

	// Data is the entity-specific part of a query.
	Data[T any] interface {
		// Method returns the full gRPC method name.
		Method() string
		// Encode serializes the query with the given header.
		Encode(h wire.QueryHeader) ([]byte, error)
		// Decode parses a successful answer.
		Decode(raw []byte) (T, error)
		RequiresPayment() bool
	}

	// Retrier can be implemented by Data to retry some answers.
	Retrier interface {
		ShouldRetryPreCheck(st ledger.Status) bool
		ShouldRetry(raw []byte) bool
	}

	// Query is a request for data from a node.
	Query[T any] struct {
		data        Data[T]
		nodes       []ledger.AccountID
		payment     *ledger.Hbar
		maxPayment  *ledger.Hbar
		paymentTxID *ledger.TransactionID
	}
)

// New creates a query for the given data.
func New[T any](data Data[T]) *Query[T] {
	return &Query[T]{data: data}
}

// SetNodeAccountIDs pins the query to the given nodes.
func (q *Query[T]) SetNodeAccountIDs(ids []ledger.AccountID) *Query[T] {
	q.nodes = ids
	return q
}

// SetPaymentAmount sets an explicit payment, no cost is requested then.
func (q *Query[T]) SetPaymentAmount(amount ledger.Hbar) *Query[T] {
	q.payment = &amount
	return q
}

// SetMaxPaymentAmount limits the automatically negotiated payment.
func (q *Query[T]) SetMaxPaymentAmount(amount ledger.Hbar) *Query[T] {
	q.maxPayment = &amount
	return q
}

// SetPaymentTransactionID sets an explicit ID of the payment transaction.
func (q *Query[T]) SetPaymentTransactionID(id ledger.TransactionID) *Query[T] {
	q.paymentTxID = &id
	return q
}

// Execute runs the query.
func (q *Query[T]) Execute(ctx context.Context, c Client) (T, error) {
	return q.ExecuteWithTimeout(ctx, c, 0)
}

// ExecuteWithTimeout runs the query limiting the execution to the given
// timeout, the Env request timeout is used if it's zero. When the query needs
// payment and has no explicit amount, its cost is requested first and checked
// against the maximum payment, both requests fit in the timeout.
func (q *Query[T]) ExecuteWithTimeout(ctx context.Context, c Client, timeout time.Duration) (T, error) {
	var (
		zero     T
		x        = &executable[T]{q: q, codec: c.Codec()}
		env      = c.ExecEnv()
		deadline time.Time
	)
	if timeout <= 0 {
		timeout = env.RequestTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		deadline = time.Now().Add(timeout)
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if q.data.RequiresPayment() {
		op := c.Operator()
		if op == nil || op.Signer == nil {
			return zero, ErrNoOperator
		}
		x.operator = op
		if q.payment != nil {
			x.amount = *q.payment
		} else {
			cost, err := q.cost(ctx, c, timeout)
			if err != nil {
				return zero, err
			}
			limit := q.maxPaymentFor(c)
			if cost > limit {
				return zero, &ledger.MaxQueryPaymentExceededError{MaxQueryPayment: limit, QueryCost: cost}
			}
			x.amount = cost
			if timeout > 0 {
				// Cost negotiation and the query share the budget.
				timeout = time.Until(deadline)
				if timeout <= 0 {
					return zero, &ledger.TimedOutError{Cause: context.DeadlineExceeded}
				}
			}
		}
	}
	return execute.ExecuteWithTimeout[T](ctx, env, x, timeout)
}

func (q *Query[T]) maxPaymentFor(c Client) ledger.Hbar {
	if q.maxPayment != nil {
		return *q.maxPayment
	}
	if m := c.MaxQueryPayment(); m > 0 {
		return m
	}
	return DefaultMaxQueryPayment
}

// executable is a query bound to a client for one execution.
type executable[T any] struct {
	q        *Query[T]
	codec    wire.Codec
	operator *ledger.Operator
	amount   ledger.Hbar
}

func (x *executable[T]) NodeAccountIDs() []ledger.AccountID { return x.q.nodes }

func (x *executable[T]) TransactionID() *ledger.TransactionID { return x.q.paymentTxID }

func (x *executable[T]) RequiresTransactionID() bool { return x.operator != nil }

func (x *executable[T]) RegenerateTransactionID() (bool, bool) { return false, false }

func (x *executable[T]) MakeRequest(txID *ledger.TransactionID, node ledger.AccountID) (*wire.Request, error) {
	h := wire.QueryHeader{ResponseType: wire.AnswerOnly}
	if x.operator != nil {
		payment, err := makePayment(x.codec, x.operator, *txID, node, x.amount)
		if err != nil {
			return nil, err
		}
		h.Payment = payment
	}
	body, err := x.q.data.Encode(h)
	if err != nil {
		return nil, err
	}
	return &wire.Request{Method: x.q.data.Method(), Body: body}, nil
}

func (x *executable[T]) PreCheckStatus(raw []byte) (ledger.Status, error) {
	h, err := x.codec.DecodeResponseHeader(raw)
	if err != nil {
		return "", err
	}
	return h.PreCheck, nil
}

func (x *executable[T]) ShouldRetryPreCheck(st ledger.Status) bool {
	if r, ok := x.q.data.(Retrier); ok {
		return r.ShouldRetryPreCheck(st)
	}
	return false
}

func (x *executable[T]) ShouldRetry(raw []byte) bool {
	if r, ok := x.q.data.(Retrier); ok {
		return r.ShouldRetry(raw)
	}
	return false
}

func (x *executable[T]) MakeResponse(raw []byte, _ *wire.Request, _ ledger.AccountID, _ *ledger.TransactionID) (T, error) {
	return x.q.data.Decode(raw)
}

func (x *executable[T]) MakeErrorPreCheck(st ledger.Status, txID *ledger.TransactionID) error {
	if x.operator == nil {
		return &ledger.PreCheckError{Kind: ledger.PreCheckQueryNoPayment, Status: st}
	}
	return &ledger.PreCheckError{Kind: ledger.PreCheckQueryPayment, Status: st, TransactionID: txID}
}
