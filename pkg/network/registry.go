/*
Package network keeps track of consensus nodes and mirror nodes the client can
use: their addresses, shared connections and health.
*/
package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"go.uber.org/zap"
)

const (
	// DefaultCooldown is the time a node is avoided after a transport
	// failure.
	DefaultCooldown = 30 * time.Minute
	// PlaintextPort is the node port used for unencrypted gRPC.
	PlaintextPort = 50211
)

var (
	// ErrEmptyNetwork is returned when a registry would contain no nodes.
	ErrEmptyNetwork = errors.New("network has no nodes")
	// ErrInvalidAddress is returned for malformed node addresses.
	ErrInvalidAddress = errors.New("invalid node address")
)

// Options are registry settings.
type Options struct {
	// Dialer creates node connections, plaintext GRPCDialer by default.
	Dialer Dialer
	// Cooldown is the unhealthy period of a node, DefaultCooldown by default.
	Cooldown time.Duration
	// AddressBookPort selects endpoints taken from address books,
	// PlaintextPort by default.
	AddressBookPort uint16
	// Log is the logger to use, no logging by default.
	Log *zap.Logger
}

// Registry is an immutable set of nodes with mutable health markers. The
// position of a node doesn't change during registry lifetime. Registry is
// safe for concurrent use.
type Registry struct {
	nodes []*Node
	index map[ledger.AccountID]int
	opts  Options
	now   func() time.Time
}

// New creates a registry from the given address book entries. Entries for
// the same node are merged.
func New(book []ledger.NodeAddress, opts Options) (*Registry, error) {
	fillOptions(&opts)
	r := &Registry{
		index: make(map[ledger.AccountID]int, len(book)),
		opts:  opts,
		now:   time.Now,
	}
	for _, entry := range book {
		for _, addr := range entry.Endpoints {
			if err := checkAddress(addr); err != nil {
				return nil, err
			}
		}
		r.add(entry.NodeAccountID, entry.Endpoints, nil)
	}
	if len(r.nodes) == 0 {
		return nil, ErrEmptyNetwork
	}
	return r, nil
}

// FromAddresses creates a registry from "host:port" to node account mapping.
// Nodes are ordered by their account IDs.
func FromAddresses(addresses map[string]ledger.AccountID, opts Options) (*Registry, error) {
	return New(bookFromAddresses(addresses), opts)
}

func fillOptions(opts *Options) {
	if opts.Dialer == nil {
		opts.Dialer = GRPCDialer{}
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.AddressBookPort == 0 {
		opts.AddressBookPort = PlaintextPort
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
}

func bookFromAddresses(addresses map[string]ledger.AccountID) []ledger.NodeAddress {
	var (
		byID = make(map[ledger.AccountID][]string)
		ids  []ledger.AccountID
	)
	for addr, id := range addresses {
		if _, ok := byID[id]; !ok {
			ids = append(ids, id)
		}
		byID[id] = append(byID[id], addr)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	book := make([]ledger.NodeAddress, 0, len(ids))
	for _, id := range ids {
		addrs := byID[id]
		sort.Strings(addrs)
		book = append(book, ledger.NodeAddress{NodeAccountID: id, Endpoints: addrs})
	}
	return book
}

func lessID(a, b ledger.AccountID) bool {
	if a.Shard != b.Shard {
		return a.Shard < b.Shard
	}
	if a.Realm != b.Realm {
		return a.Realm < b.Realm
	}
	return a.Num < b.Num
}

func checkAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// add appends a node or merges addresses into an existing one. prev is the
// node of the previous registry generation to inherit state from.
func (r *Registry) add(id ledger.AccountID, addresses []string, prev *Node) {
	if pos, ok := r.index[id]; ok {
		n := r.nodes[pos]
		n.addresses = mergeAddresses(n.addresses, addresses)
		return
	}
	n := newNode(id, mergeAddresses(nil, addresses))
	if prev != nil {
		n.unhealthyUntil = prev.unhealthyUntil
		if sameAddresses(prev.addresses, n.addresses) {
			n.conn = prev.conn
		}
	}
	r.index[id] = len(r.nodes)
	r.nodes = append(r.nodes, n)
}

func mergeAddresses(dst, src []string) []string {
	for _, a := range src {
		var dup bool
		for _, b := range dst {
			if a == b {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, a)
		}
	}
	return dst
}

func sameAddresses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		var found bool
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	return len(r.nodes)
}

// Node returns the node at the given position.
func (r *Registry) Node(pos int) *Node {
	return r.nodes[pos]
}

// NodeID returns the account ID of the node at the given position.
func (r *Registry) NodeID(pos int) ledger.AccountID {
	return r.nodes[pos].id
}

// NodeIDs returns account IDs of all nodes in position order.
func (r *Registry) NodeIDs() []ledger.AccountID {
	res := make([]ledger.AccountID, len(r.nodes))
	for i, n := range r.nodes {
		res[i] = n.id
	}
	return res
}

// Addresses returns the "host:port" to node account mapping of the registry.
func (r *Registry) Addresses() map[string]ledger.AccountID {
	res := make(map[string]ledger.AccountID)
	for _, n := range r.nodes {
		for _, a := range n.addresses {
			res[a] = n.id
		}
	}
	return res
}

// NodesFor returns positions of the given nodes in the same order. It fails
// with *ledger.NodeAccountUnknownError for nodes that are not in the
// registry.
func (r *Registry) NodesFor(ids []ledger.AccountID) ([]int, error) {
	res := make([]int, 0, len(ids))
	for _, id := range ids {
		pos, ok := r.index[id]
		if !ok {
			return nil, &ledger.NodeAccountUnknownError{ID: id}
		}
		res = append(res, pos)
	}
	return res, nil
}

// MarkUnhealthy excludes the node from HealthyPositions for the cooldown
// period. Concurrent marks just set the same deadline.
func (r *Registry) MarkUnhealthy(pos int) {
	n := r.nodes[pos]
	until := r.now().Add(r.opts.Cooldown)
	n.unhealthyUntil.Store(until.UnixNano())
	unhealthyMarks.Inc()
	r.opts.Log.Debug("node marked unhealthy",
		zap.Stringer("node", n.id),
		zap.Time("until", until))
}

// MarkHealthy clears the unhealthy marker of the node.
func (r *Registry) MarkHealthy(pos int) {
	n := r.nodes[pos]
	if n.unhealthyUntil.Load() != 0 {
		n.unhealthyUntil.Store(0)
	}
}

// IsHealthy tells whether the node at the given position is healthy now.
func (r *Registry) IsHealthy(pos int) bool {
	return r.nodes[pos].unhealthyUntil.Load() <= r.now().UnixNano()
}

// HealthyPositions returns positions of all currently healthy nodes.
func (r *Registry) HealthyPositions() []int {
	var (
		now = r.now().UnixNano()
		res = make([]int, 0, len(r.nodes))
	)
	for i, n := range r.nodes {
		if n.unhealthyUntil.Load() <= now {
			res = append(res, i)
		}
	}
	healthyNodes.Set(float64(len(res)))
	return res
}

// Connection returns the shared connection of the node, creating it on the
// first use.
func (r *Registry) Connection(pos int) (Conn, error) {
	n := r.nodes[pos]
	c, err := n.conn.get(r.opts.Dialer, n.addresses)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.id, err)
	}
	return c, nil
}

// WithAddressBook creates the next registry generation from the given
// address book. Nodes present in both keep their health and, if their
// addresses didn't change, their connections. Only endpoints with
// Options.AddressBookPort are used, book entries that have none are skipped.
func (r *Registry) WithAddressBook(book []ledger.NodeAddress) (*Registry, error) {
	var filtered = make([]ledger.NodeAddress, 0, len(book))
	for _, entry := range book {
		var eps []string
		for _, ep := range entry.Endpoints {
			_, port, err := net.SplitHostPort(ep)
			if err != nil || port != strconv.Itoa(int(r.opts.AddressBookPort)) {
				continue
			}
			eps = append(eps, ep)
		}
		if len(eps) == 0 {
			r.opts.Log.Debug("skipping address book entry without usable endpoints",
				zap.Stringer("node", entry.NodeAccountID))
			continue
		}
		filtered = append(filtered, ledger.NodeAddress{NodeAccountID: entry.NodeAccountID, Endpoints: eps})
	}
	return r.next(filtered)
}

// WithAddresses creates the next registry generation from "host:port" to
// node account mapping, carrying state over like WithAddressBook does.
func (r *Registry) WithAddresses(addresses map[string]ledger.AccountID) (*Registry, error) {
	book := bookFromAddresses(addresses)
	for _, entry := range book {
		for _, addr := range entry.Endpoints {
			if err := checkAddress(addr); err != nil {
				return nil, err
			}
		}
	}
	return r.next(book)
}

func (r *Registry) next(book []ledger.NodeAddress) (*Registry, error) {
	if len(book) == 0 {
		return nil, ErrEmptyNetwork
	}
	merged := make(map[ledger.AccountID][]string, len(book))
	for _, entry := range book {
		merged[entry.NodeAccountID] = mergeAddresses(merged[entry.NodeAccountID], entry.Endpoints)
	}
	res := &Registry{
		index: make(map[ledger.AccountID]int, len(book)),
		opts:  r.opts,
		now:   r.now,
	}
	for _, entry := range book {
		if _, ok := res.index[entry.NodeAccountID]; ok {
			continue
		}
		var prev *Node
		if pos, ok := r.index[entry.NodeAccountID]; ok {
			prev = r.nodes[pos]
		}
		res.add(entry.NodeAccountID, merged[entry.NodeAccountID], prev)
	}
	return res, nil
}

// CloseUnused closes connections of this registry that are not shared with
// the next generation.
func (r *Registry) CloseUnused(next *Registry) error {
	var errs []error
	for _, n := range r.nodes {
		if pos, ok := next.index[n.id]; ok && next.nodes[pos].conn == n.conn {
			continue
		}
		if err := n.conn.close(); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.id, err))
		}
	}
	return joinErrors(errs)
}

// Close closes all connections of the registry.
func (r *Registry) Close() error {
	var errs []error
	for _, n := range r.nodes {
		if err := n.conn.close(); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", n.id, err))
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return fmt.Errorf("%w (and %d more)", errs[0], len(errs)-1)
	}
}
