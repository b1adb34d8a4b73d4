package client

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/mirror"
	"github.com/nspcc-dev/ledger-go/pkg/query"
	"go.uber.org/zap"
)

// maxUpdateJitter is added to the update period to spread updates of
// different clients.
const maxUpdateJitter = 100 * time.Millisecond

// UpdateNetwork fetches the address book from the mirror network and makes
// it the node set.
func (c *Client) UpdateNetwork(ctx context.Context) error {
	if c.mirror == nil {
		return ErrNoMirrorNetwork
	}
	if c.closed.Load() {
		return ErrClosed
	}
	book, err := mirror.NewAddressBookQuery().Execute(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to fetch address book: %w", err)
	}

	c.netLock.Lock()
	defer c.netLock.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	cur := c.registry.Load()
	next, err := cur.WithAddressBook(book)
	if err != nil {
		return fmt.Errorf("bad address book: %w", err)
	}
	c.swap(cur, next)
	return nil
}

// StartNetworkUpdates updates the network from the mirror address book
// periodically, the first update happens after Options.FirstUpdateDelay.
// Calling it again restarts updates with the new period.
func (c *Client) StartNetworkUpdates(period time.Duration) error {
	if c.mirror == nil {
		return ErrNoMirrorNetwork
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.StopNetworkUpdates()

	c.updLock.Lock()
	defer c.updLock.Unlock()
	c.updStop = make(chan struct{})
	c.updDone = make(chan struct{})
	go c.updateLoop(period, c.updStop, c.updDone)
	return nil
}

// StopNetworkUpdates stops network updates and waits for the running one to
// finish.
func (c *Client) StopNetworkUpdates() {
	c.updLock.Lock()
	defer c.updLock.Unlock()
	if c.updStop == nil {
		return
	}
	close(c.updStop)
	<-c.updDone
	c.updStop, c.updDone = nil, nil
}

func (c *Client) updateLoop(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(c.opts.FirstUpdateDelay)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		start := time.Now()
		if err := c.UpdateNetwork(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("network update failed", zap.Error(err))
		}
		jitter := time.Duration(rand.Int63n(int64(maxUpdateJitter)))
		next := period + jitter - time.Since(start)
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
	}
}

// Ping checks that the node answers queries.
func (c *Client) Ping(ctx context.Context, node ledger.AccountID) error {
	return query.NewPing(node).Execute(ctx, c)
}

// PingWithTimeout is Ping limited by the given timeout.
func (c *Client) PingWithTimeout(ctx context.Context, node ledger.AccountID, timeout time.Duration) error {
	return query.NewPing(node).ExecuteWithTimeout(ctx, c, timeout)
}

// PingAll pings all nodes concurrently. It returns an error for the first
// node that failed, the rest are logged.
func (c *Client) PingAll(ctx context.Context) error {
	var (
		ids  = c.registry.Load().NodeIDs()
		errs = make([]error, len(ids))
		wg   sync.WaitGroup
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id ledger.AccountID) {
			defer wg.Done()
			errs[i] = c.Ping(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = fmt.Errorf("node %s: %w", ids[i], err)
			continue
		}
		c.log.Warn("ping failed", zap.Stringer("node", ids[i]), zap.Error(err))
	}
	return first
}
