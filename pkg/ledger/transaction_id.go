package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// TransactionID uniquely identifies a transaction: the paying account plus the
// start of its validity window.
type TransactionID struct {
	AccountID  AccountID
	ValidStart time.Time
	Scheduled  bool
	// Nonce is used by child transactions, zero means none.
	Nonce int32
}

const (
	minValidStartJitter = 5 * time.Second
	maxValidStartJitter = 8 * time.Second
)

// ErrInvalidTransactionID is returned when a transaction ID can't be parsed.
var ErrInvalidTransactionID = errors.New("expecting <accountId>@<validStart>[?scheduled][/<nonce>]")

// GenerateTransactionID creates a new transaction ID for the given payer. Its
// valid start is shifted a few seconds into the past so that a node with a
// slightly lagging clock still accepts it.
func GenerateTransactionID(payer AccountID) TransactionID {
	jitter := minValidStartJitter + time.Duration(rand.Int63n(int64(maxValidStartJitter-minValidStartJitter)))
	return TransactionID{
		AccountID:  payer,
		ValidStart: time.Now().Add(-jitter).UTC(),
	}
}

// WithValidStartOffset returns a copy of id with the valid start moved by d.
// Chunked transactions use it to derive one ID per chunk.
func (id TransactionID) WithValidStartOffset(d time.Duration) TransactionID {
	id.ValidStart = id.ValidStart.Add(d)
	return id
}

// ParseTransactionID parses the canonical string form of a transaction ID.
func ParseTransactionID(s string) (TransactionID, error) {
	var res TransactionID

	acc, rest, ok := strings.Cut(s, "@")
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
	}
	var err error
	res.AccountID, err = ParseEntityID(acc)
	if err != nil {
		return res, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
	}
	rest, nonce, hasNonce := strings.Cut(rest, "/")
	if hasNonce {
		n, err := strconv.ParseInt(nonce, 10, 32)
		if err != nil {
			return res, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
		}
		res.Nonce = int32(n)
	}
	s = rest
	if trimmed := strings.TrimSuffix(s, "?scheduled"); trimmed != s {
		res.Scheduled = true
		s = trimmed
	}
	secs, nanos, ok := strings.Cut(s, ".")
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
	}
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return res, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
	}
	nsec, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return res, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
	}
	res.ValidStart = time.Unix(sec, nsec).UTC()
	return res, nil
}

// String implements the fmt.Stringer interface.
func (id TransactionID) String() string {
	var b strings.Builder

	b.WriteString(id.AccountID.String())
	b.WriteByte('@')
	b.WriteString(strconv.FormatInt(id.ValidStart.Unix(), 10))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(id.ValidStart.Nanosecond()))
	if id.Scheduled {
		b.WriteString("?scheduled")
	}
	if id.Nonce != 0 {
		b.WriteByte('/')
		b.WriteString(strconv.FormatInt(int64(id.Nonce), 10))
	}
	return b.String()
}

// Equal reports whether both IDs denote the same transaction.
func (id TransactionID) Equal(other TransactionID) bool {
	return id.AccountID == other.AccountID && id.ValidStart.Equal(other.ValidStart) &&
		id.Scheduled == other.Scheduled && id.Nonce == other.Nonce
}

// Key returns a comparable representation of the ID to be used as a map key.
func (id TransactionID) Key() string {
	return id.String()
}
