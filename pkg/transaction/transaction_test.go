package transaction

import (
	"context"
	"encoding/json"
	"fmt"
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

const submitMethod = "/proto.ConsensusService/submitMessage"

var operatorID = ledger.AccountIDFromNum(1001)

type testSigner string

func (s testSigner) PublicKey() []byte { return []byte(s) }

func (s testSigner) Sign(msg []byte) ([]byte, error) {
	return append([]byte(string(s)+":"), msg...), nil
}

type testClient struct {
	env *execute.Env
	op  *ledger.Operator
}

func (c *testClient) ExecEnv() *execute.Env        { return c.env }
func (c *testClient) Codec() wire.Codec            { return fakenet.Codec{} }
func (c *testClient) Operator() *ledger.Operator   { return c.op }
func (c *testClient) MaxQueryPayment() ledger.Hbar { return 0 }

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
			Network:                 r,
			Backoff:                 backoff.Config{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
			Payer:                   &payer,
			RegenerateTransactionID: true,
			Log:                     zaptest.NewLogger(t),
		},
		op: &ledger.Operator{AccountID: operatorID, Signer: testSigner("operator")},
	}
}

// autoNode accepts every transaction and reports success receipts.
func autoNode(name string) *fakenet.Conn {
	return fakenet.NewConn(name).Handle(func(_ context.Context, method string, _ []byte) ([]byte, error) {
		if method == wire.MethodGetTransactionReceipts {
			return fakenet.ReceiptAnswer(ledger.StatusOK, ledger.StatusSuccess), nil
		}
		return fakenet.Submitted(ledger.StatusOK), nil
	})
}

type transferData struct{}

func (transferData) Method() string { return "/proto.CryptoService/cryptoTransfer" }

func (transferData) EncodeBody(h wire.TransactionHeader) ([]byte, error) {
	return fakenet.Codec{}.EncodeTransferBody(h, []wire.Transfer{{AccountID: operatorID, Amount: -1}})
}

type chunk struct {
	Header wire.TransactionHeader
	Chunk  []byte
	Info   wire.ChunkInfo
}

type messageData struct{}

func (messageData) Method() string { return submitMethod }

func (messageData) EncodeChunk(h wire.TransactionHeader, data []byte, info wire.ChunkInfo) ([]byte, error) {
	return json.Marshal(chunk{Header: h, Chunk: data, Info: info})
}

func decodeSigned(t *testing.T, call fakenet.Call) fakenet.Signed {
	s, err := fakenet.DecodeSigned(call.Body)
	require.NoError(t, err)
	return s
}

func TestTransactionExecute(t *testing.T) {
	c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.Submitted(ledger.StatusOK)})
	cl := newTestClient(t, c)

	resp, err := New(transferData{}).
		SetTransactionMemo("hi").
		Sign(testSigner("extra")).
		Execute(context.Background(), cl)
	require.NoError(t, err)
	require.Equal(t, ledger.AccountIDFromNum(3), resp.NodeAccountID)
	require.Equal(t, operatorID, resp.TransactionID.AccountID)

	calls := c.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, Hash(calls[0].Body), resp.Hash)
	require.Len(t, resp.Hash, 48)

	signed := decodeSigned(t, calls[0])
	require.Len(t, signed.Signatures, 2)
	require.Equal(t, []byte("operator"), signed.Signatures[0].PublicKey)
	require.Equal(t, append([]byte("extra:"), signed.Body...), signed.Signatures[1].Signature)

	var body fakenet.TransferBody
	require.NoError(t, json.Unmarshal(signed.Body, &body))
	require.Equal(t, "hi", body.Header.Memo)
	require.Equal(t, DefaultMaxTransactionFee, body.Header.MaxFee)
	require.Equal(t, DefaultValidDuration, body.Header.ValidDuration)
	require.True(t, resp.TransactionID.Equal(body.Header.TransactionID))
}

func TestTransactionPreCheck(t *testing.T) {
	c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.Submitted(ledger.StatusInsufficientTxFee)})
	cl := newTestClient(t, c)
	id := ledger.GenerateTransactionID(operatorID)

	_, err := New(transferData{}).SetTransactionID(id).Execute(context.Background(), cl)
	var pc *ledger.PreCheckError
	require.ErrorAs(t, err, &pc)
	require.Equal(t, ledger.PreCheckTransaction, pc.Kind)
	require.Equal(t, ledger.StatusInsufficientTxFee, pc.Status)
	require.Contains(t, err.Error(), id.String())
}

func TestTransactionRegeneration(t *testing.T) {
	t.Run("client default", func(t *testing.T) {
		c := fakenet.NewConn("a").Push(
			fakenet.Reply{Body: fakenet.Submitted(ledger.StatusTransactionExpired)},
			fakenet.Reply{Body: fakenet.Submitted(ledger.StatusOK)},
		)
		cl := newTestClient(t, c)

		resp, err := New(transferData{}).Execute(context.Background(), cl)
		require.NoError(t, err)
		calls := c.Calls()
		require.Len(t, calls, 2)

		var first, second fakenet.TransferBody
		require.NoError(t, json.Unmarshal(decodeSigned(t, calls[0]).Body, &first))
		require.NoError(t, json.Unmarshal(decodeSigned(t, calls[1]).Body, &second))
		require.False(t, first.Header.TransactionID.Equal(second.Header.TransactionID))
		require.True(t, resp.TransactionID.Equal(second.Header.TransactionID))
	})
	t.Run("disabled", func(t *testing.T) {
		c := fakenet.NewConn("a").Push(fakenet.Reply{Body: fakenet.Submitted(ledger.StatusTransactionExpired)})
		cl := newTestClient(t, c)

		_, err := New(transferData{}).SetRegenerateTransactionID(false).Execute(context.Background(), cl)
		var pc *ledger.PreCheckError
		require.ErrorAs(t, err, &pc)
		require.Equal(t, ledger.StatusTransactionExpired, pc.Status)
	})
}

func TestResponseGetReceipt(t *testing.T) {
	a := fakenet.NewConn("a")
	b := fakenet.NewConn("b").Push(
		fakenet.Reply{Body: fakenet.ReceiptAnswer(ledger.StatusReceiptNotFound, "")},
		fakenet.Reply{Body: fakenet.ReceiptAnswer(ledger.StatusOK, ledger.StatusSuccess)},
		fakenet.Reply{Body: fakenet.ReceiptAnswer(ledger.StatusOK, ledger.StatusInvalidSignature)},
	)
	cl := newTestClient(t, a, b)
	resp := &Response{NodeAccountID: ledger.AccountIDFromNum(4), TransactionID: ledger.GenerateTransactionID(operatorID)}

	r, err := resp.GetReceipt(context.Background(), cl)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuccess, r.Status)
	require.Empty(t, a.Calls())

	_, err = resp.GetReceipt(context.Background(), cl)
	var rs *ledger.ReceiptStatusError
	require.ErrorAs(t, err, &rs)
	require.Equal(t, ledger.StatusInvalidSignature, rs.Status)
}

func TestChunked(t *testing.T) {
	c := autoNode("a")
	cl := newTestClient(t, c)

	payload := make([]byte, 2500)
	for i := range payload {
		payload[i] = byte(i)
	}
	tx := NewChunked(messageData{}, payload)
	require.Equal(t, 3, tx.Chunks())

	rs, err := tx.ExecuteAll(context.Background(), cl)
	require.NoError(t, err)
	require.Len(t, rs, 3)

	var (
		chunks []chunk
		got    []byte
		kinds  []string
	)
	for _, call := range c.Calls() {
		if call.Method == wire.MethodGetTransactionReceipts {
			kinds = append(kinds, "receipt")
			continue
		}
		kinds = append(kinds, "chunk")
		var ch chunk
		require.NoError(t, json.Unmarshal(decodeSigned(t, call).Body, &ch))
		chunks = append(chunks, ch)
		got = append(got, ch.Chunk...)
	}
	require.Equal(t, []string{"chunk", "receipt", "chunk", "receipt", "chunk", "receipt"}, kinds)
	require.Equal(t, payload, got)

	initial := chunks[0].Header.TransactionID
	for i, ch := range chunks {
		require.Equal(t, int32(i+1), ch.Info.Number)
		require.Equal(t, int32(3), ch.Info.Total)
		require.True(t, initial.Equal(ch.Info.InitialTransactionID))
		require.True(t, initial.WithValidStartOffset(time.Duration(i)).Equal(ch.Header.TransactionID))
		require.True(t, rs[i].TransactionID.Equal(ch.Header.TransactionID))
	}
	require.Len(t, chunks[0].Chunk, DefaultChunkSize)
	require.Len(t, chunks[2].Chunk, 2500-2*DefaultChunkSize)

	first, err := NewChunked(messageData{}, []byte("small")).SetWaitForReceipts(false).Execute(context.Background(), cl)
	require.NoError(t, err)
	require.NotNil(t, first)
}

func TestChunkedTooBig(t *testing.T) {
	c := autoNode("a")
	cl := newTestClient(t, c)

	_, err := NewChunked(messageData{}, make([]byte, 100)).
		SetChunkSize(10).
		SetMaxChunks(5).
		ExecuteAll(context.Background(), cl)
	require.ErrorIs(t, err, ErrTooManyChunks)
	require.Empty(t, c.Calls())
}

func TestChunkedFailure(t *testing.T) {
	c := fakenet.NewConn("a").Push(
		fakenet.Reply{Body: fakenet.Submitted(ledger.StatusOK)},
		fakenet.Reply{Body: fakenet.ReceiptAnswer(ledger.StatusOK, ledger.StatusInvalidSignature)},
	)
	cl := newTestClient(t, c)

	rs, err := NewChunked(messageData{}, make([]byte, 30)).SetChunkSize(10).ExecuteAll(context.Background(), cl)
	var rsErr *ledger.ReceiptStatusError
	require.ErrorAs(t, err, &rsErr)
	require.Len(t, rs, 1)
	require.Len(t, c.Calls(), 2)
}
