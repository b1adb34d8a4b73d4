package network

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/ledger-go/internal/fakenet"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type countingDialer struct {
	dials atomic.Int32
	mtx   sync.Mutex
	conns []*fakenet.Conn
}

func (d *countingDialer) Dial(addresses []string) (Conn, error) {
	d.dials.Inc()
	c := fakenet.NewConn(addresses[0])
	d.mtx.Lock()
	d.conns = append(d.conns, c)
	d.mtx.Unlock()
	return c, nil
}

func testBook() []ledger.NodeAddress {
	return []ledger.NodeAddress{
		{NodeAccountID: ledger.AccountIDFromNum(3), Endpoints: []string{"127.0.0.1:50211"}},
		{NodeAccountID: ledger.AccountIDFromNum(4), Endpoints: []string{"127.0.0.2:50211"}},
		{NodeAccountID: ledger.AccountIDFromNum(5), Endpoints: []string{"127.0.0.3:50211", "127.0.0.3:50212"}},
	}
}

func newTestRegistry(t *testing.T, d Dialer) (*Registry, *time.Time) {
	r, err := New(testBook(), Options{Dialer: d})
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestNew(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := New(nil, Options{})
		require.ErrorIs(t, err, ErrEmptyNetwork)
	})
	t.Run("bad address", func(t *testing.T) {
		_, err := New([]ledger.NodeAddress{{
			NodeAccountID: ledger.AccountIDFromNum(3),
			Endpoints:     []string{"localhost"},
		}}, Options{})
		require.ErrorIs(t, err, ErrInvalidAddress)
	})
	t.Run("merge", func(t *testing.T) {
		book := append(testBook(), ledger.NodeAddress{
			NodeAccountID: ledger.AccountIDFromNum(3),
			Endpoints:     []string{"127.0.0.1:50211", "127.0.0.9:50211"},
		})
		r, err := New(book, Options{})
		require.NoError(t, err)
		require.Equal(t, 3, r.Len())
		require.Equal(t, []string{"127.0.0.1:50211", "127.0.0.9:50211"}, r.Node(0).Addresses())
	})
}

func TestFromAddresses(t *testing.T) {
	r, err := FromAddresses(map[string]ledger.AccountID{
		"10.0.0.2:50211": ledger.AccountIDFromNum(5),
		"10.0.0.1:50211": ledger.AccountIDFromNum(3),
		"10.0.0.3:50211": ledger.AccountIDFromNum(5),
	}, Options{})
	require.NoError(t, err)
	require.Equal(t, []ledger.AccountID{ledger.AccountIDFromNum(3), ledger.AccountIDFromNum(5)}, r.NodeIDs())
	require.Equal(t, []string{"10.0.0.2:50211", "10.0.0.3:50211"}, r.Node(1).Addresses())
	require.Len(t, r.Addresses(), 3)
}

func TestNodesFor(t *testing.T) {
	r, _ := newTestRegistry(t, &countingDialer{})

	pos, err := r.NodesFor([]ledger.AccountID{ledger.AccountIDFromNum(5), ledger.AccountIDFromNum(3)})
	require.NoError(t, err)
	require.Equal(t, []int{2, 0}, pos)

	_, err = r.NodesFor([]ledger.AccountID{ledger.AccountIDFromNum(3), ledger.AccountIDFromNum(42)})
	var unknown *ledger.NodeAccountUnknownError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, ledger.AccountIDFromNum(42), unknown.ID)
}

func TestHealthCooldown(t *testing.T) {
	r, now := newTestRegistry(t, &countingDialer{})
	require.Equal(t, []int{0, 1, 2}, r.HealthyPositions())

	r.MarkUnhealthy(1)
	require.False(t, r.IsHealthy(1))
	require.Equal(t, []int{0, 2}, r.HealthyPositions())

	*now = now.Add(DefaultCooldown - time.Second)
	require.Equal(t, []int{0, 2}, r.HealthyPositions())

	*now = now.Add(time.Second)
	require.True(t, r.IsHealthy(1))
	require.Equal(t, []int{0, 1, 2}, r.HealthyPositions())

	r.MarkUnhealthy(0)
	r.MarkUnhealthy(0)
	require.Equal(t, []int{1, 2}, r.HealthyPositions())
	r.MarkHealthy(0)
	require.Equal(t, []int{0, 1, 2}, r.HealthyPositions())
}

func TestCustomCooldown(t *testing.T) {
	r, err := New(testBook(), Options{Cooldown: time.Minute})
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }

	r.MarkUnhealthy(2)
	require.False(t, r.IsHealthy(2))
	now = now.Add(time.Minute)
	require.True(t, r.IsHealthy(2))
}

func TestConnectionCreatedOnce(t *testing.T) {
	d := &countingDialer{}
	r, _ := newTestRegistry(t, d)

	var (
		wg    sync.WaitGroup
		conns = make([]Conn, 32)
	)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Connection(2)
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()
	require.EqualValues(t, 1, d.dials.Load())
	for _, c := range conns {
		require.Same(t, conns[0], c)
	}

	_, err := r.Connection(0)
	require.NoError(t, err)
	require.EqualValues(t, 2, d.dials.Load())

	require.NoError(t, r.Close())
	for _, c := range d.conns {
		require.True(t, c.Closed())
	}
	_, err = r.Connection(2)
	require.ErrorIs(t, err, ErrClosed)
}

func TestConnectionDialError(t *testing.T) {
	var (
		calls   int
		errDial = errors.New("boom")
	)
	r, err := New(testBook(), Options{Dialer: DialerFunc(func([]string) (Conn, error) {
		calls++
		if calls == 1 {
			return nil, errDial
		}
		return fakenet.NewConn("ok"), nil
	})})
	require.NoError(t, err)

	_, err = r.Connection(0)
	require.ErrorIs(t, err, errDial)
	require.Contains(t, err.Error(), "0.0.3")

	c, err := r.Connection(0)
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestWithAddressBook(t *testing.T) {
	d := &countingDialer{}
	r, now := newTestRegistry(t, d)
	r.MarkUnhealthy(0)
	c4, err := r.Connection(1)
	require.NoError(t, err)
	c5, err := r.Connection(2)
	require.NoError(t, err)

	next, err := r.WithAddressBook([]ledger.NodeAddress{
		{NodeAccountID: ledger.AccountIDFromNum(3), Endpoints: []string{"127.0.0.1:50211", "127.0.0.1:50212"}},
		{NodeAccountID: ledger.AccountIDFromNum(4), Endpoints: []string{"127.0.0.2:50211"}},
		{NodeAccountID: ledger.AccountIDFromNum(5), Endpoints: []string{"127.0.0.7:50211"}},
		{NodeAccountID: ledger.AccountIDFromNum(6), Endpoints: []string{"127.0.0.4:443"}},
	})
	require.NoError(t, err)
	require.Equal(t, []ledger.AccountID{
		ledger.AccountIDFromNum(3),
		ledger.AccountIDFromNum(4),
		ledger.AccountIDFromNum(5),
	}, next.NodeIDs())
	require.Equal(t, []string{"127.0.0.1:50211"}, next.Node(0).Addresses())

	require.False(t, next.IsHealthy(0))
	next.MarkHealthy(0)
	require.True(t, r.IsHealthy(0))
	next.MarkUnhealthy(1)
	require.False(t, r.IsHealthy(1))

	c, err := next.Connection(1)
	require.NoError(t, err)
	require.Same(t, c4, c)
	c, err = next.Connection(2)
	require.NoError(t, err)
	require.NotSame(t, c5, c)

	require.NoError(t, r.CloseUnused(next))
	require.True(t, c5.(*fakenet.Conn).Closed())
	require.False(t, c4.(*fakenet.Conn).Closed())

	*now = now.Add(DefaultCooldown)
	require.Equal(t, []int{0, 1, 2}, next.HealthyPositions())
}

func TestWithAddresses(t *testing.T) {
	r, _ := newTestRegistry(t, &countingDialer{})
	r.MarkUnhealthy(2)

	next, err := r.WithAddresses(map[string]ledger.AccountID{
		"127.0.0.3:50211": ledger.AccountIDFromNum(5),
	})
	require.NoError(t, err)
	require.Equal(t, 1, next.Len())
	require.False(t, next.IsHealthy(0))

	_, err = r.WithAddresses(map[string]ledger.AccountID{"nope": ledger.AccountIDFromNum(5)})
	require.ErrorIs(t, err, ErrInvalidAddress)
	_, err = r.WithAddressBook(nil)
	require.ErrorIs(t, err, ErrEmptyNetwork)
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"mainnet", "testnet", "previewnet"} {
		book, mirror, ok := Preset(name)
		require.True(t, ok, name)
		require.NotEmpty(t, mirror)
		r, err := New(book, Options{})
		require.NoError(t, err, name)
		require.Equal(t, len(book), r.Len())
		for _, entry := range book {
			for _, ep := range entry.Endpoints {
				require.Contains(t, ep, ":50211")
			}
		}
	}
	_, _, ok := Preset("devnet")
	require.False(t, ok)
	require.Equal(t, ledger.AccountIDFromNum(3), Mainnet()[0].NodeAccountID)
}

func TestMirrorNetwork(t *testing.T) {
	_, err := NewMirrorNetwork(nil, nil, nil)
	require.ErrorIs(t, err, ErrNoAddresses)

	m, err := NewMirrorNetwork([]string{TestnetMirror}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, m.dialer.(GRPCDialer).Credentials)

	m, err = NewMirrorNetwork([]string{"127.0.0.1:5600"}, nil, nil)
	require.NoError(t, err)
	require.Nil(t, m.dialer.(GRPCDialer).Credentials)

	d := &countingDialer{}
	m, err = NewMirrorNetwork([]string{"127.0.0.1:5600"}, d, nil)
	require.NoError(t, err)
	c1, err := m.Connection()
	require.NoError(t, err)
	c2, err := m.Connection()
	require.NoError(t, err)
	require.Same(t, c1, c2)
	require.EqualValues(t, 1, d.dials.Load())
	require.NoError(t, m.Close())
	require.True(t, c1.(*fakenet.Conn).Closed())
	_, err = m.Connection()
	require.ErrorIs(t, err, ErrClosed)
}

func TestGRPCDialer(t *testing.T) {
	_, err := GRPCDialer{}.Dial(nil)
	require.ErrorIs(t, err, ErrNoAddresses)

	c, err := GRPCDialer{}.Dial([]string{"127.0.0.1:1", "127.0.0.1:2"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Probe(ctx, c)
	require.Error(t, err)
	require.NoError(t, c.Close())
}

func TestProbeUnsupported(t *testing.T) {
	_, err := Probe(context.Background(), fakenet.NewConn("fake"))
	require.ErrorIs(t, err, ErrProbeUnsupported)
}
