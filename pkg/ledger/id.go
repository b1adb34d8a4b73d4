/*
Package ledger contains the primitive types shared by the networking engine:
entity identifiers, transaction identifiers, statuses, amounts, receipts and
the error taxonomy returned to callers.
*/
package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EntityID is a shard.realm.num triple identifying a ledger entity.
type EntityID struct {
	Shard uint64
	Realm uint64
	Num   uint64
}

type (
	// AccountID identifies an account, node accounts included.
	AccountID = EntityID
	// TopicID identifies a consensus topic.
	TopicID = EntityID
	// FileID identifies a file.
	FileID = EntityID
)

// ErrInvalidEntityID is returned when an entity ID string can't be parsed.
var ErrInvalidEntityID = errors.New("invalid entity ID")

// AccountIDFromNum returns 0.0.num account ID.
func AccountIDFromNum(num uint64) AccountID {
	return AccountID{Num: num}
}

// ParseEntityID parses "shard.realm.num" or a plain "num" string.
func ParseEntityID(s string) (EntityID, error) {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		n, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, s)
		}
		return EntityID{Num: n}, nil
	case 3:
		var (
			res EntityID
			dst = []*uint64{&res.Shard, &res.Realm, &res.Num}
		)
		for i := range parts {
			n, err := strconv.ParseUint(parts[i], 10, 64)
			if err != nil {
				return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, s)
			}
			*dst[i] = n
		}
		return res, nil
	default:
		return EntityID{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, s)
	}
}

// String implements the fmt.Stringer interface.
func (id EntityID) String() string {
	return fmt.Sprintf("%d.%d.%d", id.Shard, id.Realm, id.Num)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (id *EntityID) UnmarshalText(text []byte) error {
	res, err := ParseEntityID(string(text))
	if err != nil {
		return err
	}
	*id = res
	return nil
}
