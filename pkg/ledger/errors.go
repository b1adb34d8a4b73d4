package ledger

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNoPayerAccountOrTransactionID is returned when a request needs a
// transaction ID, but neither an explicit one nor an operator to generate it
// from is available.
var ErrNoPayerAccountOrTransactionID = errors.New("client must be configured with a payer account or requests must be given an explicit transaction ID")

type (
	// TimedOutError is returned when the retry budget of a request is spent.
	// It wraps the error of the most recent attempt.
	TimedOutError struct {
		Cause error
	}

	// GrpcStatusError is a non-retryable transport-level failure.
	GrpcStatusError struct {
		Status *status.Status
	}

	// PreCheckKind tells what kind of request failed a pre-check.
	PreCheckKind byte

	// PreCheckError is a fatal pre-check answer of a node. TransactionID is
	// set when known to correlate the failure with server-side logs.
	PreCheckError struct {
		Kind          PreCheckKind
		Status        Status
		TransactionID *TransactionID
		// Cost is the cost reported by the node for a query, if any.
		Cost Hbar
	}

	// NodeAccountUnknownError is returned when a request is pinned to a node
	// that is not part of the configured network.
	NodeAccountUnknownError struct {
		ID AccountID
	}

	// MaxQueryPaymentExceededError is returned when the negotiated query cost
	// is above the maximum payment allowed for it. It's returned before any
	// payment is sent.
	MaxQueryPaymentExceededError struct {
		MaxQueryPayment Hbar
		QueryCost       Hbar
	}

	// ResponseStatusUnrecognizedError is returned by codecs for response codes
	// they can't map to a Status.
	ResponseStatusUnrecognizedError struct {
		Code int32
	}

	// ReceiptStatusError is returned for a final receipt with non-SUCCESS
	// status when status validation is requested.
	ReceiptStatusError struct {
		Status        Status
		TransactionID *TransactionID
	}
)

// Pre-check kinds.
const (
	PreCheckTransaction PreCheckKind = iota
	PreCheckQuery
	PreCheckQueryPayment
	PreCheckQueryNoPayment
)

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("failed to complete request within the maximum time allowed; most recent attempt failed with: %v", e.Cause)
}

func (e *TimedOutError) Unwrap() error {
	return e.Cause
}

// NewGrpcStatusError wraps the given gRPC status.
func NewGrpcStatusError(st *status.Status) *GrpcStatusError {
	return &GrpcStatusError{Status: st}
}

func (e *GrpcStatusError) Error() string {
	return fmt.Sprintf("failed to complete request: gRPC status %s: %s", e.Status.Code(), e.Status.Message())
}

// GRPCStatus allows status.FromError and status.Code to see through the error.
func (e *GrpcStatusError) GRPCStatus() *status.Status {
	return e.Status
}

// Code returns the gRPC status code.
func (e *GrpcStatusError) Code() codes.Code {
	return e.Status.Code()
}

func (e *PreCheckError) Error() string {
	var id = "<none>"
	if e.TransactionID != nil {
		id = e.TransactionID.String()
	}
	switch e.Kind {
	case PreCheckQuery:
		return fmt.Sprintf("query for transaction %s failed pre-check with status %s", id, e.Status)
	case PreCheckQueryPayment:
		return fmt.Sprintf("query with payment transaction %s failed pre-check with status %s", id, e.Status)
	case PreCheckQueryNoPayment:
		return fmt.Sprintf("query with no payment transaction failed pre-check with status %s", e.Status)
	default:
		return fmt.Sprintf("transaction %s failed pre-check with status %s", id, e.Status)
	}
}

func (e *NodeAccountUnknownError) Error() string {
	return fmt.Sprintf("node account %s was not found in the configured network", e.ID)
}

func (e *MaxQueryPaymentExceededError) Error() string {
	return fmt.Sprintf("cost of %s without explicit payment is greater than the maximum allowed payment of %s",
		e.QueryCost, e.MaxQueryPayment)
}

func (e *ResponseStatusUnrecognizedError) Error() string {
	return fmt.Sprintf("received unrecognized status code: %d", e.Code)
}

func (e *ReceiptStatusError) Error() string {
	var id = "<none>"
	if e.TransactionID != nil {
		id = e.TransactionID.String()
	}
	return fmt.Sprintf("receipt for transaction %s failed with status %s", id, e.Status)
}
