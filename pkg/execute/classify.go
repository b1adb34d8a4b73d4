package execute

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ConnectionResetMessage is the status message of UNKNOWN errors caused by
// a proxy dropping the connection.
const ConnectionResetMessage = "connection reset by peer"

// htmlContentType is a part of the status message grpc-go produces for
// non-gRPC HTTP answers like load balancer error pages.
const htmlContentType = `content-type "text/html`

type outcome byte

const (
	outcomeFatal outcome = iota
	outcomeTransient
	outcomeAttemptTimeout
	outcomeUnhealthyFatal
	outcomeNoConnection
)

// connectionError is returned by attempts that couldn't get a connection to
// the node.
type connectionError struct {
	err error
}

func (e *connectionError) Error() string {
	return "failed to connect: " + e.err.Error()
}

func (e *connectionError) Unwrap() error {
	return e.err
}

// IsTransient tells whether the status means the node is temporarily
// unavailable and the request can be repeated elsewhere.
func IsTransient(st *status.Status) bool {
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted:
		return true
	case codes.Unknown:
		return st.Message() == ConnectionResetMessage
	default:
		return false
	}
}

// classify maps a transport error to an outcome. free is set for requests
// without a transaction, they can be safely repeated even if the effect of
// the previous attempt is unknown.
func classify(err error, free bool) outcome {
	if err == errAttemptTimeout {
		return outcomeAttemptTimeout
	}
	var ce *connectionError
	if errors.As(err, &ce) {
		return outcomeNoConnection
	}
	st, ok := status.FromError(err)
	if !ok {
		return outcomeFatal
	}
	if IsTransient(st) {
		return outcomeTransient
	}
	if (st.Code() == codes.Internal || st.Code() == codes.Unknown) && strings.Contains(st.Message(), htmlContentType) {
		if free {
			return outcomeTransient
		}
		return outcomeUnhealthyFatal
	}
	return outcomeFatal
}
