package fakenet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
)

// Query kinds of the JSON codec.
const (
	KindReceipt = "receipt"
	KindBalance = "balance"
)

type (
	// Codec is a wire.Codec serializing everything as JSON.
	Codec struct{}

	// Query is a serialized query.
	Query struct {
		Kind    string
		Header  wire.QueryHeader
		Receipt *wire.ReceiptFilter `json:",omitempty"`
		Account *ledger.AccountID   `json:",omitempty"`
	}

	// Answer is a serialized query answer.
	Answer struct {
		Header  wire.ResponseHeader
		Receipt *ledger.Receipt `json:",omitempty"`
		Payload []byte          `json:",omitempty"`
	}

	// TransferBody is a serialized transfer transaction body.
	TransferBody struct {
		Header    wire.TransactionHeader
		Transfers []wire.Transfer
	}

	// Signed is a serialized signed transaction.
	Signed struct {
		Body       []byte
		Signatures []wire.SignaturePair
	}

	// TxAnswer is a serialized transaction submission answer.
	TxAnswer struct {
		PreCheck ledger.Status
		Cost     ledger.Hbar
	}
)

var _ wire.Codec = Codec{}

var errNoReceipt = errors.New("answer has no receipt")

// MustJSON marshals v or panics.
func MustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// CostAnswer is a query answer with the given pre-check status and cost.
func CostAnswer(st ledger.Status, cost ledger.Hbar) []byte {
	return MustJSON(Answer{Header: wire.ResponseHeader{PreCheck: st, Cost: cost}})
}

// PayloadAnswer is a successful query answer with the given payload.
func PayloadAnswer(payload []byte) []byte {
	return MustJSON(Answer{Header: wire.ResponseHeader{PreCheck: ledger.StatusOK}, Payload: payload})
}

// ReceiptAnswer is a receipt query answer.
func ReceiptAnswer(preCheck ledger.Status, st ledger.Status) []byte {
	return MustJSON(Answer{
		Header:  wire.ResponseHeader{PreCheck: preCheck},
		Receipt: &ledger.Receipt{Status: st},
	})
}

// Submitted is a transaction submission answer.
func Submitted(st ledger.Status) []byte {
	return MustJSON(TxAnswer{PreCheck: st})
}

// DecodeQuery parses a query recorded by a fake connection.
func DecodeQuery(raw []byte) (Query, error) {
	var q Query
	err := json.Unmarshal(raw, &q)
	return q, err
}

// DecodeSigned parses a signed transaction.
func DecodeSigned(raw []byte) (Signed, error) {
	var s Signed
	err := json.Unmarshal(raw, &s)
	return s, err
}

// EncodeTransferBody implements the wire.TransactionCodec interface.
func (Codec) EncodeTransferBody(h wire.TransactionHeader, transfers []wire.Transfer) ([]byte, error) {
	return json.Marshal(TransferBody{Header: h, Transfers: transfers})
}

// EncodeSigned implements the wire.TransactionCodec interface.
func (Codec) EncodeSigned(body []byte, sigs []wire.SignaturePair) ([]byte, error) {
	return json.Marshal(Signed{Body: body, Signatures: sigs})
}

// DecodeTransactionResponse implements the wire.TransactionCodec interface.
func (Codec) DecodeTransactionResponse(raw []byte) (ledger.Status, ledger.Hbar, error) {
	var a TxAnswer
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", 0, err
	}
	if a.PreCheck == "" {
		return "", 0, &ledger.ResponseStatusUnrecognizedError{Code: -1}
	}
	return a.PreCheck, a.Cost, nil
}

// DecodeResponseHeader implements the wire.QueryCodec interface.
func (Codec) DecodeResponseHeader(raw []byte) (wire.ResponseHeader, error) {
	var a Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return wire.ResponseHeader{}, err
	}
	if a.Header.PreCheck == "" {
		return wire.ResponseHeader{}, &ledger.ResponseStatusUnrecognizedError{Code: -1}
	}
	return a.Header, nil
}

// EncodeReceiptQuery implements the wire.QueryCodec interface.
func (Codec) EncodeReceiptQuery(h wire.QueryHeader, f wire.ReceiptFilter) ([]byte, error) {
	return json.Marshal(Query{Kind: KindReceipt, Header: h, Receipt: &f})
}

// DecodeReceipt implements the wire.QueryCodec interface.
func (Codec) DecodeReceipt(raw []byte) (ledger.Receipt, error) {
	var a Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return ledger.Receipt{}, err
	}
	if a.Receipt == nil {
		return ledger.Receipt{}, errNoReceipt
	}
	r := *a.Receipt
	r.Raw = raw
	return r, nil
}

// EncodeBalanceQuery implements the wire.QueryCodec interface.
func (Codec) EncodeBalanceQuery(h wire.QueryHeader, account ledger.AccountID) ([]byte, error) {
	return json.Marshal(Query{Kind: KindBalance, Header: h, Account: &account})
}

// EncodeTopicQuery implements the wire.MirrorCodec interface.
func (Codec) EncodeTopicQuery(f wire.TopicFilter) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeTopicResponse implements the wire.MirrorCodec interface.
func (Codec) DecodeTopicResponse(raw []byte) (wire.TopicResponse, error) {
	var r wire.TopicResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("bad topic response: %w", err)
	}
	return r, nil
}

// EncodeAddressBookQuery implements the wire.MirrorCodec interface.
func (Codec) EncodeAddressBookQuery(f wire.AddressBookFilter) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeNodeAddress implements the wire.MirrorCodec interface.
func (Codec) DecodeNodeAddress(raw []byte) (ledger.NodeAddress, error) {
	var a ledger.NodeAddress
	err := json.Unmarshal(raw, &a)
	return a, err
}
