package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/ledger-go/internal/fakenet"
	"github.com/nspcc-dev/ledger-go/pkg/backoff"
	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/network"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var operatorID = ledger.AccountIDFromNum(1001)

type testSigner struct{}

func (testSigner) PublicKey() []byte { return []byte("pub") }

func (testSigner) Sign(msg []byte) ([]byte, error) {
	return append([]byte("sig:"), msg...), nil
}

type testClient struct {
	env *execute.Env
	op  *ledger.Operator
	max ledger.Hbar
}

func (c *testClient) ExecEnv() *execute.Env        { return c.env }
func (c *testClient) Codec() wire.Codec            { return fakenet.Codec{} }
func (c *testClient) Operator() *ledger.Operator   { return c.op }
func (c *testClient) MaxQueryPayment() ledger.Hbar { return c.max }

func newTestClient(t *testing.T, conns ...*fakenet.Conn) *testClient {
	var (
		book   []ledger.NodeAddress
		byAddr = make(map[string]*fakenet.Conn)
	)
	for i, c := range conns {
		addr := fmt.Sprintf("10.0.0.%d:50211", i+1)
		byAddr[addr] = c
		book = append(book, ledger.NodeAddress{
			NodeAccountID: ledger.AccountIDFromNum(uint64(i + 3)),
			Endpoints:     []string{addr},
		})
	}
	r, err := network.New(book, network.Options{
		Dialer: network.DialerFunc(func(addrs []string) (network.Conn, error) {
			return byAddr[addrs[0]], nil
		}),
	})
	require.NoError(t, err)
	payer := operatorID
	return &testClient{
		env: &execute.Env{
			Network: r,
			Backoff: backoff.Config{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
			Payer:   &payer,
			Log:     zaptest.NewLogger(t),
		},
		op: &ledger.Operator{AccountID: operatorID, Signer: testSigner{}},
	}
}

// balanceData is a paid query answering with the payload as a string.
type balanceData struct {
	free bool
}

func (d balanceData) Method() string { return wire.MethodCryptoGetBalance }

func (d balanceData) Encode(h wire.QueryHeader) ([]byte, error) {
	return fakenet.Codec{}.EncodeBalanceQuery(h, operatorID)
}

func (d balanceData) Decode(raw []byte) (string, error) {
	var a fakenet.Answer
	err := json.Unmarshal(raw, &a)
	return string(a.Payload), err
}

func (d balanceData) RequiresPayment() bool { return !d.free }

func decodeQuery(t *testing.T, call fakenet.Call) fakenet.Query {
	q, err := fakenet.DecodeQuery(call.Body)
	require.NoError(t, err)
	return q
}

func decodePayment(t *testing.T, q fakenet.Query) (fakenet.TransferBody, fakenet.Signed) {
	require.NotNil(t, q.Header.Payment)
	signed, err := fakenet.DecodeSigned(q.Header.Payment)
	require.NoError(t, err)
	var body fakenet.TransferBody
	require.NoError(t, json.Unmarshal(signed.Body, &body))
	return body, signed
}

func TestQueryMaxPaymentExceeded(t *testing.T) {
	c := fakenet.NewConn("a").Push(
		fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusOK, 10)},
		fakenet.Reply{Body: fakenet.PayloadAnswer([]byte("never"))},
	)
	cl := newTestClient(t, c)

	_, err := New[string](balanceData{}).SetMaxPaymentAmount(1).Execute(context.Background(), cl)
	var exceeded *ledger.MaxQueryPaymentExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, ledger.MaxQueryPaymentExceededError{MaxQueryPayment: 1, QueryCost: 10}, *exceeded)

	calls := c.Calls()
	require.Len(t, calls, 1)
	q := decodeQuery(t, calls[0])
	require.Equal(t, wire.CostAnswer, q.Header.ResponseType)
	require.Nil(t, q.Header.Payment)
}

func TestQueryClientMaxPayment(t *testing.T) {
	c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusOK, 10)})
	cl := newTestClient(t, c)
	cl.max = 5

	_, err := New[string](balanceData{}).Execute(context.Background(), cl)
	var exceeded *ledger.MaxQueryPaymentExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, ledger.Hbar(5), exceeded.MaxQueryPayment)
	require.Len(t, c.Calls(), 1)
}

func TestQueryNegotiatedPayment(t *testing.T) {
	c := fakenet.NewConn("a").Push(
		fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusOK, 10)},
		fakenet.Reply{Body: fakenet.PayloadAnswer([]byte("42"))},
	)
	cl := newTestClient(t, c)

	res, err := New[string](balanceData{}).Execute(context.Background(), cl)
	require.NoError(t, err)
	require.Equal(t, "42", res)

	calls := c.Calls()
	require.Len(t, calls, 2)
	q := decodeQuery(t, calls[1])
	require.Equal(t, wire.AnswerOnly, q.Header.ResponseType)
	body, signed := decodePayment(t, q)
	node := ledger.AccountIDFromNum(3)
	require.Equal(t, []wire.Transfer{
		{AccountID: operatorID, Amount: -10},
		{AccountID: node, Amount: 10},
	}, body.Transfers)
	require.Equal(t, node, body.Header.NodeAccountID)
	require.Equal(t, operatorID, body.Header.TransactionID.AccountID)
	require.Equal(t, PaymentMaxFee, body.Header.MaxFee)
	require.Equal(t, []wire.SignaturePair{{
		PublicKey: []byte("pub"),
		Signature: append([]byte("sig:"), signed.Body...),
	}}, signed.Signatures)
}

func TestQueryExplicitPayment(t *testing.T) {
	c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.PayloadAnswer([]byte("42"))})
	cl := newTestClient(t, c)
	id := ledger.GenerateTransactionID(operatorID)

	_, err := New[string](balanceData{}).
		SetPaymentAmount(7).
		SetPaymentTransactionID(id).
		Execute(context.Background(), cl)
	require.NoError(t, err)

	calls := c.Calls()
	require.Len(t, calls, 1)
	body, _ := decodePayment(t, decodeQuery(t, calls[0]))
	require.Equal(t, ledger.Hbar(7), body.Transfers[1].Amount)
	require.True(t, id.Equal(body.Header.TransactionID))
}

func TestQueryPaymentPreCheck(t *testing.T) {
	c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusInsufficientPayerBalance, 0)})
	cl := newTestClient(t, c)

	_, err := New[string](balanceData{}).SetPaymentAmount(7).Execute(context.Background(), cl)
	var pc *ledger.PreCheckError
	require.ErrorAs(t, err, &pc)
	require.Equal(t, ledger.PreCheckQueryPayment, pc.Kind)
	require.Equal(t, ledger.StatusInsufficientPayerBalance, pc.Status)
	require.NotNil(t, pc.TransactionID)
	require.Equal(t, operatorID, pc.TransactionID.AccountID)
}

func TestQueryNoOperator(t *testing.T) {
	c := fakenet.NewConn("a")
	cl := newTestClient(t, c)
	cl.op = nil

	_, err := New[string](balanceData{}).Execute(context.Background(), cl)
	require.ErrorIs(t, err, ErrNoOperator)
	require.Empty(t, c.Calls())
}

func TestQueryFree(t *testing.T) {
	c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.PayloadAnswer([]byte("free"))})
	cl := newTestClient(t, c)
	cl.op = nil

	res, err := New[string](balanceData{free: true}).Execute(context.Background(), cl)
	require.NoError(t, err)
	require.Equal(t, "free", res)
	calls := c.Calls()
	require.Len(t, calls, 1)
	require.Nil(t, decodeQuery(t, calls[0]).Header.Payment)
}

func TestQueryCost(t *testing.T) {
	a := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusOK, 25)})
	b := fakenet.NewConn("b")
	cl := newTestClient(t, a, b)

	cost, err := New[string](balanceData{}).
		SetNodeAccountIDs([]ledger.AccountID{ledger.AccountIDFromNum(3)}).
		Cost(context.Background(), cl)
	require.NoError(t, err)
	require.Equal(t, ledger.Hbar(25), cost)
	require.Empty(t, b.Calls())

	a.Push(fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusNotSupported, 0)})
	_, err = New[string](balanceData{}).
		SetNodeAccountIDs([]ledger.AccountID{ledger.AccountIDFromNum(3)}).
		Cost(context.Background(), cl)
	var pc *ledger.PreCheckError
	require.ErrorAs(t, err, &pc)
	require.Equal(t, ledger.PreCheckQueryNoPayment, pc.Kind)
}

func TestQueryTimeoutCoversCost(t *testing.T) {
	var (
		mtx       sync.Mutex
		deadlines []time.Time
	)
	c := fakenet.NewConn("a").Handle(func(ctx context.Context, _ string, _ []byte) ([]byte, error) {
		dl, ok := ctx.Deadline()
		if !ok {
			return nil, fmt.Errorf("no deadline")
		}
		mtx.Lock()
		defer mtx.Unlock()
		deadlines = append(deadlines, dl)
		if len(deadlines) == 1 {
			time.Sleep(50 * time.Millisecond)
			return fakenet.CostAnswer(ledger.StatusOK, 5), nil
		}
		return fakenet.PayloadAnswer([]byte("42")), nil
	})
	cl := newTestClient(t, c)

	// Both requests run within the same deadline, the time spent on the
	// cost doesn't extend the query one.
	res, err := New[string](balanceData{}).ExecuteWithTimeout(context.Background(), cl, time.Second)
	require.NoError(t, err)
	require.Equal(t, "42", res)
	require.Len(t, deadlines, 2)
	require.Less(t, deadlines[1].Sub(deadlines[0]), 10*time.Millisecond)

	t.Run("env timeout", func(t *testing.T) {
		deadlines = nil
		cl.env.RequestTimeout = time.Second
		_, err := New[string](balanceData{}).Execute(context.Background(), cl)
		require.NoError(t, err)
		require.Len(t, deadlines, 2)
		require.Less(t, deadlines[1].Sub(deadlines[0]), 10*time.Millisecond)
	})
}
