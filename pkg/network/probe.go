package network

import (
	"context"
	"errors"

	"google.golang.org/grpc/connectivity"
)

// ErrProbeUnsupported is returned by Probe for connections that don't expose
// their connectivity state.
var ErrProbeUnsupported = errors.New("connection doesn't support probing")

type stateful interface {
	GetState() connectivity.State
	WaitForStateChange(context.Context, connectivity.State) bool
	Connect()
}

// Probe makes the connection establish a transport and waits until it's
// ready or ctx is done. It returns the last observed state.
func Probe(ctx context.Context, conn Conn) (connectivity.State, error) {
	cc, ok := conn.(stateful)
	if !ok {
		return connectivity.Idle, ErrProbeUnsupported
	}
	cc.Connect()
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			probes.WithLabelValues(s.String()).Inc()
			return s, nil
		case connectivity.Shutdown:
			probes.WithLabelValues(s.String()).Inc()
			return s, ErrClosed
		}
		if !cc.WaitForStateChange(ctx, s) {
			probes.WithLabelValues(s.String()).Inc()
			return s, ctx.Err()
		}
	}
}
