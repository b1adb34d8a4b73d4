package wire

import (
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
)

type (
	// TransactionCodec serializes transactions and decodes submission answers.
	TransactionCodec interface {
		// EncodeTransferBody serializes a transfer transaction body, it's
		// used for query payments.
		EncodeTransferBody(h TransactionHeader, transfers []Transfer) ([]byte, error)
		// EncodeSigned wraps body bytes and signatures into a transaction
		// that can be submitted or attached to a query as a payment.
		EncodeSigned(body []byte, sigs []SignaturePair) ([]byte, error)
		// DecodeTransactionResponse returns the pre-check status and the
		// cost reported by the node for a submitted transaction.
		DecodeTransactionResponse(raw []byte) (ledger.Status, ledger.Hbar, error)
	}

	// QueryCodec serializes the queries the engine itself needs to make and
	// decodes common answer parts.
	QueryCodec interface {
		// DecodeResponseHeader extracts the common header of any query answer.
		DecodeResponseHeader(raw []byte) (ResponseHeader, error)
		EncodeReceiptQuery(h QueryHeader, f ReceiptFilter) ([]byte, error)
		DecodeReceipt(raw []byte) (ledger.Receipt, error)
		// EncodeBalanceQuery is used to ping nodes.
		EncodeBalanceQuery(h QueryHeader, account ledger.AccountID) ([]byte, error)
	}

	// MirrorCodec handles mirror node streaming calls.
	MirrorCodec interface {
		EncodeTopicQuery(f TopicFilter) ([]byte, error)
		DecodeTopicResponse(raw []byte) (TopicResponse, error)
		EncodeAddressBookQuery(f AddressBookFilter) ([]byte, error)
		DecodeNodeAddress(raw []byte) (ledger.NodeAddress, error)
	}

	// Codec is the complete serializer boundary a Client needs.
	Codec interface {
		TransactionCodec
		QueryCodec
		MirrorCodec
	}
)
