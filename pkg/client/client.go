/*
Package client provides Client, the entry point for executing requests. It
owns the consensus node registry and the mirror network, keeps the registry
up to date from the mirror address book and provides the execution
environment to requests.
*/
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/backoff"
	"github.com/nspcc-dev/ledger-go/pkg/config"
	"github.com/nspcc-dev/ledger-go/pkg/execute"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/mirror"
	"github.com/nspcc-dev/ledger-go/pkg/network"
	"github.com/nspcc-dev/ledger-go/pkg/storage"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultFirstUpdateDelay is the time network updates wait before the
	// first one.
	DefaultFirstUpdateDelay = 10 * time.Second
	// DefaultRetireDelay is the time connections dropped by a network
	// change stay open for requests still using them.
	DefaultRetireDelay = time.Minute
)

var (
	// ErrNoCodec is returned when no codec is given.
	ErrNoCodec = errors.New("no codec")
	// ErrNoMirrorNetwork is returned for mirror operations of a client that
	// has no mirror network.
	ErrNoMirrorNetwork = errors.New("client has no mirror network")
	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("client is closed")
)

// Options are Client settings, zero values mean defaults.
type Options struct {
	// Codec serializes requests, it's mandatory.
	Codec wire.Codec
	// Operator pays for requests, nil means requests need explicit
	// transaction IDs and free queries only.
	Operator *ledger.Operator
	// Dialer creates consensus node connections.
	Dialer network.Dialer
	// MirrorDialer creates mirror network connections.
	MirrorDialer network.Dialer
	// Backoff configures retries, backoff.DefaultConfig if zero.
	Backoff        backoff.Config
	MaxAttempts    int
	GRPCTimeout    time.Duration
	RequestTimeout time.Duration
	// MaxQueryPayment is the default limit of negotiated query payments.
	MaxQueryPayment         ledger.Hbar
	RegenerateTransactionID bool
	// Cooldown is the time a failed node is avoided for.
	Cooldown time.Duration
	// FirstUpdateDelay is the delay before the first network update.
	FirstUpdateDelay time.Duration
	// RetireDelay is the delay before connections no longer used by the
	// network are closed.
	RetireDelay time.Duration
	// Checkpoints keeps topic subscription positions, TopicQuery doesn't
	// set checkpoints if it's nil. The client doesn't close it.
	Checkpoints storage.Store
	Log         *zap.Logger
}

// Client executes requests against a ledger network. It's safe for
// concurrent use.
type Client struct {
	opts     Options
	log      *zap.Logger
	registry atomic.Pointer[network.Registry]
	mirror   *network.MirrorNetwork
	operator atomic.Pointer[ledger.Operator]
	maxQuery atomic.Int64
	closed   atomic.Bool

	// ownStore is a checkpoint store opened by FromConfig.
	ownStore storage.Store

	// netLock serializes registry changes.
	netLock   sync.Mutex
	retired   map[uint64]func() error
	retireSeq uint64

	updLock sync.Mutex
	updStop chan struct{}
	updDone chan struct{}
}

// New creates a client for the given address book. mirrorAddresses can be
// empty, mirror operations fail then.
func New(book []ledger.NodeAddress, mirrorAddresses []string, opts Options) (*Client, error) {
	if opts.Codec == nil {
		return nil, ErrNoCodec
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Backoff == (backoff.Config{}) {
		opts.Backoff = backoff.DefaultConfig()
	}
	if opts.FirstUpdateDelay <= 0 {
		opts.FirstUpdateDelay = DefaultFirstUpdateDelay
	}
	if opts.RetireDelay <= 0 {
		opts.RetireDelay = DefaultRetireDelay
	}
	reg, err := network.New(book, network.Options{
		Dialer:   opts.Dialer,
		Cooldown: opts.Cooldown,
		Log:      opts.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}
	c := &Client{
		opts:    opts,
		log:     opts.Log,
		retired: make(map[uint64]func() error),
	}
	if len(mirrorAddresses) != 0 {
		c.mirror, err = network.NewMirrorNetwork(mirrorAddresses, opts.MirrorDialer, opts.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to create mirror network: %w", err)
		}
	}
	c.registry.Store(reg)
	c.operator.Store(opts.Operator)
	c.maxQuery.Store(int64(opts.MaxQueryPayment))
	return c, nil
}

// FromAddresses creates a client for "host:port" to node account mapping.
func FromAddresses(addresses map[string]ledger.AccountID, mirrorAddresses []string, opts Options) (*Client, error) {
	book := make([]ledger.NodeAddress, 0, len(addresses))
	for addr, id := range addresses {
		book = append(book, ledger.NodeAddress{NodeAccountID: id, Endpoints: []string{addr}})
	}
	return New(book, mirrorAddresses, opts)
}

// ForMainnet creates a client for the main network.
func ForMainnet(opts Options) (*Client, error) {
	return forPreset(config.MainNet, opts)
}

// ForTestnet creates a client for the test network.
func ForTestnet(opts Options) (*Client, error) {
	return forPreset(config.TestNet, opts)
}

// ForPreviewnet creates a client for the preview network.
func ForPreviewnet(opts Options) (*Client, error) {
	return forPreset(config.PreviewNet, opts)
}

func forPreset(name string, opts Options) (*Client, error) {
	book, mirrorAddr, ok := network.Preset(name)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", name)
	}
	return New(book, []string{mirrorAddr}, opts)
}

// FromConfig creates a client from the configuration. signer is used for the
// configured operator account, it can be nil if there is none or the client
// is not going to sign anything. The checkpoint store (if its type is set)
// is opened and closed with the client, network updates are started if the configuration has a
// mirror network and a positive update period.
func FromConfig(cfg config.Config, codec wire.Codec, signer ledger.Signer, log *zap.Logger) (*Client, error) {
	bc := backoff.DefaultConfig()
	bc.InitialInterval = cfg.Backoff.MinBackoff
	bc.MaxInterval = cfg.Backoff.MaxBackoff
	opts := Options{
		Codec:                   codec,
		Backoff:                 bc,
		MaxAttempts:             cfg.Backoff.MaxAttempts,
		GRPCTimeout:             cfg.Backoff.GRPCTimeout,
		RequestTimeout:          cfg.Backoff.RequestTimeout,
		MaxQueryPayment:         cfg.MaxQueryPayment,
		RegenerateTransactionID: cfg.RegenerateTransactionID,
		Log:                     log,
	}
	if cfg.Operator.AccountID != nil {
		opts.Operator = &ledger.Operator{AccountID: *cfg.Operator.AccountID, Signer: signer}
	}
	book, mirrors, err := network.AddressBookFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	var store storage.Store
	if cfg.Checkpoint.Type != "" {
		store, err = storage.NewStore(cfg.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint storage: %w", err)
		}
		opts.Checkpoints = store
	}
	c, err := New(book, mirrors, opts)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	c.ownStore = store
	if c.mirror != nil && cfg.NetworkUpdatePeriod > 0 {
		if err := c.StartNetworkUpdates(cfg.NetworkUpdatePeriod); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Network returns the current node registry.
func (c *Client) Network() *network.Registry {
	return c.registry.Load()
}

// Mirror returns the mirror network, nil if there is none.
func (c *Client) Mirror() *network.MirrorNetwork {
	return c.mirror
}

// Codec returns the client codec.
func (c *Client) Codec() wire.Codec {
	return c.opts.Codec
}

// Operator returns the current operator, nil if there is none.
func (c *Client) Operator() *ledger.Operator {
	return c.operator.Load()
}

// SetOperator sets the operator for subsequent requests.
func (c *Client) SetOperator(op *ledger.Operator) {
	c.operator.Store(op)
}

// Checkpoints returns the checkpoint store, nil if there is none.
func (c *Client) Checkpoints() storage.Store {
	return c.opts.Checkpoints
}

// TopicQuery creates a query for messages of the topic, it resumes from and
// saves to the client checkpoint store if there is one.
func (c *Client) TopicQuery(topic ledger.TopicID) *mirror.TopicQuery {
	q := mirror.NewTopicQuery(topic)
	if c.opts.Checkpoints != nil {
		q.SetCheckpoint(c.opts.Checkpoints, mirror.CheckpointKey(topic))
	}
	return q
}

// MaxQueryPayment returns the default max query payment.
func (c *Client) MaxQueryPayment() ledger.Hbar {
	return ledger.Hbar(c.maxQuery.Load())
}

// SetMaxQueryPayment sets the default max query payment.
func (c *Client) SetMaxQueryPayment(amount ledger.Hbar) {
	c.maxQuery.Store(int64(amount))
}

// ExecEnv returns the execution environment for one request, it uses the
// registry that is current at the time of the call.
func (c *Client) ExecEnv() *execute.Env {
	env := &execute.Env{
		Network:                 c.registry.Load(),
		Backoff:                 c.opts.Backoff,
		MaxAttempts:             c.opts.MaxAttempts,
		GRPCTimeout:             c.opts.GRPCTimeout,
		RequestTimeout:          c.opts.RequestTimeout,
		RegenerateTransactionID: c.opts.RegenerateTransactionID,
		Log:                     c.log,
	}
	if op := c.operator.Load(); op != nil {
		payer := op.AccountID
		env.Payer = &payer
	}
	return env
}

// MirrorEnv returns the mirror subscription environment.
func (c *Client) MirrorEnv() *mirror.Env {
	var src mirror.Source = noMirror{}
	if c.mirror != nil {
		src = c.mirror
	}
	return &mirror.Env{
		Source:         src,
		Codec:          c.opts.Codec,
		Backoff:        c.opts.Backoff,
		RequestTimeout: c.opts.RequestTimeout,
		Log:            c.log,
	}
}

// SetNetwork replaces the node set with the given addresses, health and
// connections of nodes that stay are kept.
func (c *Client) SetNetwork(addresses map[string]ledger.AccountID) error {
	c.netLock.Lock()
	defer c.netLock.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	cur := c.registry.Load()
	next, err := cur.WithAddresses(addresses)
	if err != nil {
		return err
	}
	c.swap(cur, next)
	return nil
}

// swap makes next current and schedules closing of the connections it
// doesn't use. It's called with netLock held.
func (c *Client) swap(cur, next *network.Registry) {
	c.registry.Store(next)
	var (
		once   sync.Once
		retire = func() error {
			var err error
			once.Do(func() { err = cur.CloseUnused(next) })
			return err
		}
	)
	id := c.retireSeq
	c.retireSeq++
	c.retired[id] = retire
	time.AfterFunc(c.opts.RetireDelay, func() {
		c.netLock.Lock()
		delete(c.retired, id)
		c.netLock.Unlock()
		if err := retire(); err != nil {
			c.log.Warn("failed to close unused connections", zap.Error(err))
		}
	})
	c.log.Info("network updated", zap.Int("nodes", next.Len()))
}

// Close stops network updates and closes all connections.
func (c *Client) Close() error {
	c.StopNetworkUpdates()

	c.netLock.Lock()
	defer c.netLock.Unlock()
	if c.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, retire := range c.retired {
		if err := retire(); err != nil {
			errs = append(errs, err)
		}
	}
	c.retired = make(map[uint64]func() error)
	if err := c.registry.Load().Close(); err != nil {
		errs = append(errs, err)
	}
	if c.mirror != nil {
		if err := c.mirror.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mirror: %w", err))
		}
	}
	if c.ownStore != nil {
		if err := c.ownStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("checkpoints: %w", err))
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("failed to close client: %w (%d errors)", errs[0], len(errs))
	}
	return nil
}

type noMirror struct{}

func (noMirror) Connection() (network.Conn, error) {
	return nil, ErrNoMirrorNetwork
}
