package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestTimedOutUnwrap(t *testing.T) {
	cause := &PreCheckError{Status: StatusBusy}
	err := error(&TimedOutError{Cause: cause})

	var pe *PreCheckError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, StatusBusy, pe.Status)
	require.Contains(t, err.Error(), "BUSY")
}

func TestGrpcStatusError(t *testing.T) {
	err := NewGrpcStatusError(status.New(codes.PermissionDenied, "nope"))

	require.Equal(t, codes.PermissionDenied, err.Code())
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	require.Contains(t, err.Error(), "nope")
}

func TestPreCheckErrorMessage(t *testing.T) {
	id, err := ParseTransactionID("0.0.5006@1554158542.0")
	require.NoError(t, err)

	e := &PreCheckError{Kind: PreCheckTransaction, Status: StatusInvalidSignature, TransactionID: &id}
	require.Equal(t, "transaction 0.0.5006@1554158542.0 failed pre-check with status INVALID_SIGNATURE", e.Error())

	e = &PreCheckError{Kind: PreCheckQueryNoPayment, Status: StatusNotSupported}
	require.Equal(t, "query with no payment transaction failed pre-check with status NOT_SUPPORTED", e.Error())
}

func TestHbarString(t *testing.T) {
	require.Equal(t, "10 tℏ", Hbar(10).String())
	require.Equal(t, "-9999 tℏ", Hbar(-9999).String())
	require.Equal(t, "1 ℏ", OneHbar.String())
	require.Equal(t, "0.5 ℏ", (OneHbar / 2).String())
}
