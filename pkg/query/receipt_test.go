package query

import (
	"context"
	"testing"

	"github.com/nspcc-dev/ledger-go/internal/fakenet"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"github.com/stretchr/testify/require"
)

func receiptReply(preCheck, st ledger.Status) fakenet.Reply {
	return fakenet.Reply{Body: fakenet.ReceiptAnswer(preCheck, st)}
}

func TestReceiptQueryPolls(t *testing.T) {
	a := fakenet.NewConn("a").Push(
		receiptReply(ledger.StatusReceiptNotFound, ""),
		receiptReply(ledger.StatusOK, ledger.StatusUnknown),
		receiptReply(ledger.StatusBusy, ""),
		receiptReply(ledger.StatusOK, ledger.StatusSuccess),
	)
	b := fakenet.NewConn("b")
	cl := newTestClient(t, a, b)
	id := ledger.GenerateTransactionID(operatorID)

	r, err := NewReceiptQuery(id).
		SetNodeAccountIDs([]ledger.AccountID{ledger.AccountIDFromNum(3)}).
		SetIncludeChildren(true).
		Execute(context.Background(), cl)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuccess, r.Status)
	require.NotNil(t, r.TransactionID)
	require.True(t, id.Equal(*r.TransactionID))
	require.Len(t, a.Calls(), 4)
	require.Empty(t, b.Calls())

	call := a.Calls()[0]
	require.Equal(t, wire.MethodGetTransactionReceipts, call.Method)
	q := decodeQuery(t, call)
	require.Equal(t, fakenet.KindReceipt, q.Kind)
	require.Nil(t, q.Header.Payment)
	require.True(t, q.Receipt.IncludeChildren)
	require.False(t, q.Receipt.IncludeDuplicates)
	require.True(t, id.Equal(q.Receipt.TransactionID))
}

func TestReceiptQueryStatus(t *testing.T) {
	id := ledger.GenerateTransactionID(operatorID)

	t.Run("returned", func(t *testing.T) {
		a := fakenet.NewConn("a").Push(receiptReply(ledger.StatusOK, ledger.StatusInvalidSignature))
		cl := newTestClient(t, a)

		r, err := NewReceiptQuery(id).Execute(context.Background(), cl)
		require.NoError(t, err)
		require.Equal(t, ledger.StatusInvalidSignature, r.Status)
	})
	t.Run("validated", func(t *testing.T) {
		a := fakenet.NewConn("a").Push(receiptReply(ledger.StatusOK, ledger.StatusInvalidSignature))
		cl := newTestClient(t, a)

		_, err := NewReceiptQuery(id).SetValidateStatus(true).Execute(context.Background(), cl)
		var rs *ledger.ReceiptStatusError
		require.ErrorAs(t, err, &rs)
		require.Equal(t, ledger.StatusInvalidSignature, rs.Status)
		require.True(t, id.Equal(*rs.TransactionID))
	})
	t.Run("fatal pre-check", func(t *testing.T) {
		a := fakenet.NewConn("a").Push(receiptReply(ledger.StatusInvalidTransactionID, ""))
		cl := newTestClient(t, a)

		_, err := NewReceiptQuery(id).Execute(context.Background(), cl)
		var pc *ledger.PreCheckError
		require.ErrorAs(t, err, &pc)
		require.Equal(t, ledger.PreCheckQuery, pc.Kind)
		require.Equal(t, ledger.StatusInvalidTransactionID, pc.Status)
		require.Contains(t, err.Error(), id.String())
	})
	t.Run("timed out", func(t *testing.T) {
		a := fakenet.NewConn("a").Handle(func(context.Context, string, []byte) ([]byte, error) {
			return fakenet.ReceiptAnswer(ledger.StatusRecordNotFound, ""), nil
		})
		cl := newTestClient(t, a)
		cl.env.MaxAttempts = 3

		_, err := NewReceiptQuery(id).Execute(context.Background(), cl)
		var (
			to *ledger.TimedOutError
			pc *ledger.PreCheckError
		)
		require.ErrorAs(t, err, &to)
		require.ErrorAs(t, err, &pc)
		require.Equal(t, ledger.StatusRecordNotFound, pc.Status)
	})
}

func TestPing(t *testing.T) {
	a := fakenet.NewConn("a")
	b := fakenet.NewConn("b").Push(
		fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusOK, 0)},
		fakenet.Reply{Body: fakenet.CostAnswer(ledger.StatusInvalidNodeAccount, 0)},
	)
	cl := newTestClient(t, a, b)
	cl.op = nil
	node := ledger.AccountIDFromNum(4)

	require.NoError(t, NewPing(node).Execute(context.Background(), cl))
	require.Empty(t, a.Calls())
	calls := b.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, wire.MethodCryptoGetBalance, calls[0].Method)
	q := decodeQuery(t, calls[0])
	require.Equal(t, fakenet.KindBalance, q.Kind)
	require.Equal(t, node, *q.Account)

	err := NewPing(node).Execute(context.Background(), cl)
	var pc *ledger.PreCheckError
	require.ErrorAs(t, err, &pc)
	require.Equal(t, ledger.StatusInvalidNodeAccount, pc.Status)

	err = NewPing(ledger.AccountIDFromNum(77)).Execute(context.Background(), cl)
	var unknown *ledger.NodeAccountUnknownError
	require.ErrorAs(t, err, &unknown)
}
