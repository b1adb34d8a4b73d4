package network

import (
	"errors"
	"sync"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"go.uber.org/atomic"
)

// ErrClosed is returned for connections of a closed registry.
var ErrClosed = errors.New("connection is closed")

// Node is a consensus node the client can talk to.
type Node struct {
	id        ledger.AccountID
	addresses []string
	// unhealthyUntil is a unix nano timestamp, zero for healthy nodes. It's
	// shared between registry generations.
	unhealthyUntil *atomic.Int64
	conn           *connSlot
}

// connSlot lazily holds a shared connection. The mutex only guards the
// creation, readers go through the atomic value.
type connSlot struct {
	mtx  sync.Mutex
	conn atomic.Value
}

type connHolder struct {
	conn   Conn
	closed bool
}

func newNode(id ledger.AccountID, addresses []string) *Node {
	return &Node{
		id:             id,
		addresses:      addresses,
		unhealthyUntil: atomic.NewInt64(0),
		conn:           new(connSlot),
	}
}

// ID returns the node account ID.
func (n *Node) ID() ledger.AccountID {
	return n.id
}

// Addresses returns "host:port" addresses of the node.
func (n *Node) Addresses() []string {
	res := make([]string, len(n.addresses))
	copy(res, n.addresses)
	return res
}

func (s *connSlot) load() (Conn, bool, error) {
	h, ok := s.conn.Load().(*connHolder)
	if !ok {
		return nil, false, nil
	}
	if h.closed {
		return nil, true, ErrClosed
	}
	return h.conn, true, nil
}

func (s *connSlot) get(d Dialer, addresses []string) (Conn, error) {
	if c, ok, err := s.load(); ok {
		return c, err
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if c, ok, err := s.load(); ok {
		return c, err
	}
	c, err := d.Dial(addresses)
	if err != nil {
		return nil, err
	}
	s.conn.Store(&connHolder{conn: c})
	return c, nil
}

func (s *connSlot) close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	h, ok := s.conn.Load().(*connHolder)
	s.conn.Store(&connHolder{closed: true})
	if !ok || h.conn == nil {
		return nil
	}
	return h.conn.Close()
}
