package mirror

import (
	"context"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"google.golang.org/grpc/codes"
)

// DefaultAddressBookFileID is the file holding the address book of the
// whole network.
var DefaultAddressBookFileID = ledger.FileID{Num: 102}

// AddressBookQuery streams the node address book from a mirror node.
type AddressBookQuery struct {
	FileID ledger.FileID
	// Limit is the maximum number of nodes returned, zero means all.
	Limit int32
}

type addressBookRequest struct {
	q     AddressBookQuery
	codec wire.MirrorCodec
}

// NewAddressBookQuery creates a query for the default address book file.
func NewAddressBookQuery() *AddressBookQuery {
	return &AddressBookQuery{FileID: DefaultAddressBookFileID}
}

// Subscribe starts streaming node addresses.
func (q *AddressBookQuery) Subscribe(ctx context.Context, c Client) *Subscription[ledger.NodeAddress] {
	return q.SubscribeWithTimeout(ctx, c, 0)
}

// SubscribeWithTimeout starts streaming node addresses with the given
// reconnection budget.
func (q *AddressBookQuery) SubscribeWithTimeout(ctx context.Context, c Client, timeout time.Duration) *Subscription[ledger.NodeAddress] {
	env := c.MirrorEnv()
	return Subscribe[ledger.NodeAddress](ctx, env, &addressBookRequest{q: *q, codec: env.Codec}, timeout)
}

// Execute returns the address book. A stream that is reopened starts from
// the beginning, entries received again replace the earlier ones.
func (q *AddressBookQuery) Execute(ctx context.Context, c Client) ([]ledger.NodeAddress, error) {
	return q.ExecuteWithTimeout(ctx, c, 0)
}

// ExecuteWithTimeout is Execute with the given reconnection budget.
func (q *AddressBookQuery) ExecuteWithTimeout(ctx context.Context, c Client, timeout time.Duration) ([]ledger.NodeAddress, error) {
	items, err := Collect(q.SubscribeWithTimeout(ctx, c, timeout))
	if err != nil {
		return nil, err
	}
	var (
		book = make([]ledger.NodeAddress, 0, len(items))
		seen = make(map[ledger.AccountID]int, len(items))
	)
	for _, a := range items {
		if i, ok := seen[a.NodeAccountID]; ok {
			book[i] = a
			continue
		}
		seen[a.NodeAccountID] = len(book)
		book = append(book, a)
	}
	return book, nil
}

func (a *addressBookRequest) Method() string {
	return wire.MethodGetNodes
}

func (a *addressBookRequest) Filter(_ *Cursor) ([]byte, error) {
	return a.codec.EncodeAddressBookQuery(wire.AddressBookFilter{FileID: a.q.FileID, Limit: a.q.Limit})
}

func (a *addressBookRequest) Decode(raw []byte) (ledger.NodeAddress, error) {
	return a.codec.DecodeNodeAddress(raw)
}

func (a *addressBookRequest) Position(ledger.NodeAddress) (time.Time, bool) {
	return time.Time{}, false
}

// ShouldRetry allows to reopen streams reset by proxies.
func (a *addressBookRequest) ShouldRetry(code codes.Code) bool {
	return code == codes.Internal
}
