package network

import (
	"crypto/tls"
	"errors"
	"time"

	"google.golang.org/grpc"
	grpcbackoff "google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/resolver/manual"
)

// Conn is a shared client connection to a node or mirror network.
type Conn interface {
	grpc.ClientConnInterface
	Close() error
}

// Dialer creates connections balanced over a set of addresses. Transport
// security is the dialer's business.
type Dialer interface {
	Dial(addresses []string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(addresses []string) (Conn, error)

// Dial implements the Dialer interface.
func (f DialerFunc) Dial(addresses []string) (Conn, error) {
	return f(addresses)
}

// GRPCDialer is the default Dialer creating gRPC client connections that
// spread calls over all given addresses with the round_robin balancer.
type GRPCDialer struct {
	// Credentials used for the connection, plaintext if nil.
	Credentials credentials.TransportCredentials
	// ConnectTimeout is the minimal time given to establish a connection.
	ConnectTimeout time.Duration
	// KeepAlive is the interval of HTTP/2 keepalive pings.
	KeepAlive time.Duration
	// Options are appended to the default dial options.
	Options []grpc.DialOption
}

const (
	resolverScheme        = "ledger"
	defaultConnectTimeout = 10 * time.Second
	defaultKeepAlive      = 10 * time.Second
	roundRobinConfig      = `{"loadBalancingConfig":[{"round_robin":{}}]}`
)

// ErrNoAddresses is returned when dialing an empty address list.
var ErrNoAddresses = errors.New("no addresses to connect to")

// TLSDialer returns a GRPCDialer using TLS with system roots.
func TLSDialer() GRPCDialer {
	return GRPCDialer{Credentials: credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})}
}

// Dial implements the Dialer interface. The connection is established lazily
// by gRPC, so Dial itself doesn't block.
func (d GRPCDialer) Dial(addresses []string) (Conn, error) {
	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}
	var (
		r     = manual.NewBuilderWithScheme(resolverScheme)
		state resolver.State
		creds = d.Credentials
		ct    = d.ConnectTimeout
		ka    = d.KeepAlive
	)
	for _, addr := range addresses {
		state.Addresses = append(state.Addresses, resolver.Address{Addr: addr})
	}
	r.InitialState(state)
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	if ct <= 0 {
		ct = defaultConnectTimeout
	}
	if ka <= 0 {
		ka = defaultKeepAlive
	}
	opts := []grpc.DialOption{
		grpc.WithResolvers(r),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultServiceConfig(roundRobinConfig),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           grpcbackoff.DefaultConfig,
			MinConnectTimeout: ct,
		}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                ka,
			Timeout:             ka,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, d.Options...)
	conn, err := grpc.Dial(r.Scheme()+":///"+addresses[0], opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
