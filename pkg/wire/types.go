package wire

import (
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
)

// ResponseType selects what a query answer should contain.
type ResponseType byte

// Response types.
const (
	AnswerOnly ResponseType = iota
	CostAnswer
)

type (
	// QueryHeader is the common part of every query.
	QueryHeader struct {
		// Payment is a signed payment transaction, nil for free queries.
		Payment      []byte
		ResponseType ResponseType
	}

	// ResponseHeader is the common part of every query answer.
	ResponseHeader struct {
		PreCheck ledger.Status
		Cost     ledger.Hbar
	}

	// TransactionHeader is the common part of every transaction body.
	TransactionHeader struct {
		TransactionID ledger.TransactionID
		NodeAccountID ledger.AccountID
		MaxFee        ledger.Hbar
		ValidDuration time.Duration
		Memo          string
	}

	// Transfer is one leg of a transfer transaction.
	Transfer struct {
		AccountID ledger.AccountID
		Amount    ledger.Hbar
	}

	// SignaturePair is a public key with the signature it made.
	SignaturePair struct {
		PublicKey []byte
		Signature []byte
	}

	// ReceiptFilter selects a receipt to query.
	ReceiptFilter struct {
		TransactionID     ledger.TransactionID
		IncludeChildren   bool
		IncludeDuplicates bool
	}

	// TopicFilter is the mirror topic subscription request.
	TopicFilter struct {
		TopicID ledger.TopicID
		// StartTime is inclusive, zero means from the beginning.
		StartTime time.Time
		// EndTime is exclusive, zero means open-ended.
		EndTime time.Time
		// Limit is the maximum number of messages, zero means unlimited.
		Limit uint64
	}

	// ChunkInfo marks a message as a part of a chunked one.
	ChunkInfo struct {
		InitialTransactionID ledger.TransactionID
		// Number is 1-based.
		Number int32
		Total  int32
	}

	// TopicResponse is one raw item of a topic subscription.
	TopicResponse struct {
		ConsensusTimestamp time.Time
		Message            []byte
		RunningHash        []byte
		RunningHashVersion uint64
		SequenceNumber     uint64
		// Chunk is nil for messages that were not split.
		Chunk *ChunkInfo
	}

	// AddressBookFilter is the mirror address book request.
	AddressBookFilter struct {
		FileID ledger.FileID
		Limit  int32
	}
)
