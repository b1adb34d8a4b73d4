/*
Package execute drives one logical request through the network: it selects
nodes, sends the request, classifies the outcome and retries with backoff
until it gets a final answer or runs out of budget.
*/
package execute

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/backoff"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/network"
	"github.com/nspcc-dev/ledger-go/pkg/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultMaxAttempts is the number of attempts made when Env doesn't
// specify one.
const DefaultMaxAttempts = 10

// Network is the node set requests are executed against, *network.Registry
// implements it.
type Network interface {
	Len() int
	NodeID(pos int) ledger.AccountID
	NodesFor(ids []ledger.AccountID) ([]int, error)
	HealthyPositions() []int
	IsHealthy(pos int) bool
	MarkUnhealthy(pos int)
	MarkHealthy(pos int)
	Connection(pos int) (network.Conn, error)
}

// Executable is a request that can be executed. The methods are called by
// Execute only, in the order of the attempt lifecycle.
type Executable[T any] interface {
	// NodeAccountIDs returns nodes the request is pinned to, nil if any node
	// can serve it.
	NodeAccountIDs() []ledger.AccountID
	// TransactionID returns the explicit transaction ID of the request, nil
	// if it's to be generated.
	TransactionID() *ledger.TransactionID
	RequiresTransactionID() bool
	// RegenerateTransactionID overrides the Env setting if set is true.
	RegenerateTransactionID() (value bool, set bool)
	// MakeRequest serializes the request for the given node.
	MakeRequest(txID *ledger.TransactionID, node ledger.AccountID) (*wire.Request, error)
	// PreCheckStatus extracts the pre-check status from the answer.
	PreCheckStatus(raw []byte) (ledger.Status, error)
	ShouldRetryPreCheck(st ledger.Status) bool
	// ShouldRetry tells whether an otherwise successful answer is not final
	// yet.
	ShouldRetry(raw []byte) bool
	MakeResponse(raw []byte, req *wire.Request, node ledger.AccountID, txID *ledger.TransactionID) (T, error)
	MakeErrorPreCheck(st ledger.Status, txID *ledger.TransactionID) error
}

// Env is the execution environment shared by requests of one client.
type Env struct {
	Network Network
	// Backoff configures delays between attempts. Its MaxElapsedTime is the
	// budget for pre-check retries unless a request timeout is given.
	Backoff backoff.Config
	// MaxAttempts limits the number of attempts, DefaultMaxAttempts if zero.
	MaxAttempts int
	// GRPCTimeout limits a single attempt, no limit if zero.
	GRPCTimeout time.Duration
	// RequestTimeout limits the whole execution when no explicit timeout is
	// given, no limit if zero.
	RequestTimeout time.Duration
	// Payer is used to generate transaction IDs, requests requiring one fail
	// without it unless they have an explicit ID.
	Payer *ledger.AccountID
	// RegenerateTransactionID enables new IDs for expired generated ones.
	RegenerateTransactionID bool
	Log                     *zap.Logger
	// Sleep waits between attempts, backoff.Sleep if nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

type execution[T any] struct {
	env       *Env
	e         Executable[T]
	log       *zap.Logger
	txID      *ledger.TransactionID
	regen     *ledger.AccountID
	pinned    []int
	cands     []int
	next      int
	bounded   *backoff.Policy
	unbounded *backoff.Policy
	lastErr   error
}

var errAttemptTimeout = status.Error(codes.DeadlineExceeded, "explicitly given grpc timeout was exceeded")

// Execute runs the request with the Env request timeout.
func Execute[T any](ctx context.Context, env *Env, e Executable[T]) (T, error) {
	return ExecuteWithTimeout(ctx, env, e, 0)
}

// ExecuteWithTimeout runs the request limiting the whole execution to the
// given timeout, Env.RequestTimeout is used if it's zero. Running out of time
// or attempts results in *ledger.TimedOutError wrapping the error of the last
// attempt.
func ExecuteWithTimeout[T any](ctx context.Context, env *Env, e Executable[T], timeout time.Duration) (T, error) {
	var zero T

	if timeout <= 0 {
		timeout = env.RequestTimeout
	}
	x, err := newExecution(env, e, timeout)
	if err != nil {
		return zero, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := x.run(ctx)
	executionTime.WithLabelValues(resultLabel(err)).Observe(time.Since(start).Seconds())
	return res, err
}

func newExecution[T any](env *Env, e Executable[T], timeout time.Duration) (*execution[T], error) {
	x := &execution[T]{
		env: env,
		e:   e,
		log: env.Log,
	}
	if x.log == nil {
		x.log = zap.NewNop()
	}
	x.log = x.log.With(zap.String("request", fmt.Sprintf("%T", e)))

	if e.RequiresTransactionID() {
		if id := e.TransactionID(); id != nil {
			cp := *id
			x.txID = &cp
		} else {
			if env.Payer == nil {
				return nil, ledger.ErrNoPayerAccountOrTransactionID
			}
			id := ledger.GenerateTransactionID(*env.Payer)
			x.txID = &id
			regen, set := e.RegenerateTransactionID()
			if !set {
				regen = env.RegenerateTransactionID
			}
			if regen {
				payer := *env.Payer
				x.regen = &payer
			}
		}
	}

	if ids := e.NodeAccountIDs(); len(ids) != 0 {
		pinned, err := env.Network.NodesFor(ids)
		if err != nil {
			return nil, err
		}
		x.pinned = pinned
	}

	cfg := env.Backoff
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = backoff.DefaultConfig().MaxElapsedTime
	}
	if timeout > 0 {
		cfg.MaxElapsedTime = timeout
	}
	x.bounded = backoff.New(cfg)
	x.unbounded = backoff.Unbounded(cfg)
	return x, nil
}

func (x *execution[T]) run(ctx context.Context) (T, error) {
	var (
		zero        T
		maxAttempts = x.env.MaxAttempts
	)
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	x.cands = x.candidates()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, x.stopped(err)
		}
		var (
			pos  = x.pick()
			node = x.env.Network.NodeID(pos)
			log  = x.log.With(zap.Stringer("node", node), zap.Int("attempt", attempt))
		)
		req, err := x.e.MakeRequest(x.txID, node)
		if err != nil {
			return zero, err
		}
		log.Debug("sending request")
		raw, err := x.send(ctx, pos, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				x.lastErr = err
				return zero, x.stopped(ctxErr)
			}
			switch classify(err, x.txID == nil) {
			case outcomeTransient:
				x.env.Network.MarkUnhealthy(pos)
				attempts.WithLabelValues("transient").Inc()
			case outcomeNoConnection:
				x.env.Network.MarkUnhealthy(pos)
				attempts.WithLabelValues("no_connection").Inc()
			case outcomeAttemptTimeout:
				attempts.WithLabelValues("attempt_timeout").Inc()
			case outcomeUnhealthyFatal:
				x.env.Network.MarkUnhealthy(pos)
				fallthrough
			default:
				attempts.WithLabelValues("fatal").Inc()
				return zero, fatalTransport(err)
			}
			x.lastErr = err
			d, _ := x.unbounded.Next()
			log.Warn("node failed, trying another one",
				zap.Duration("backoff", d),
				zap.Error(err))
			if err := x.sleep(ctx, d); err != nil {
				return zero, x.stopped(err)
			}
			continue
		}

		x.env.Network.MarkHealthy(pos)
		st, err := x.e.PreCheckStatus(raw)
		if err != nil {
			attempts.WithLabelValues("fatal").Inc()
			return zero, err
		}
		switch {
		case st == ledger.StatusOK && !x.e.ShouldRetry(raw):
			attempts.WithLabelValues("success").Inc()
			log.Debug("request succeeded")
			return x.e.MakeResponse(raw, req, node, x.txID)
		case st == ledger.StatusTransactionExpired && x.regen != nil:
			x.lastErr = x.e.MakeErrorPreCheck(st, x.txID)
			id := ledger.GenerateTransactionID(*x.regen)
			x.txID = &id
			attempts.WithLabelValues("expired").Inc()
			log.Warn("transaction expired, regenerating ID", zap.Stringer("id", id))
			continue
		case st == ledger.StatusOK, st.IsBusy(), x.e.ShouldRetryPreCheck(st):
			x.lastErr = x.e.MakeErrorPreCheck(st, x.txID)
			attempts.WithLabelValues("retry").Inc()
			d, ok := x.bounded.Next()
			if !ok {
				return zero, &ledger.TimedOutError{Cause: x.lastErr}
			}
			log.Warn("request is not complete yet, backing off",
				zap.Stringer("status", st),
				zap.Duration("backoff", d))
			if err := x.sleep(ctx, d); err != nil {
				return zero, x.stopped(err)
			}
		default:
			attempts.WithLabelValues("fatal").Inc()
			return zero, x.e.MakeErrorPreCheck(st, x.txID)
		}
	}
	return zero, &ledger.TimedOutError{Cause: x.lastErr}
}

// candidates returns shuffled positions of nodes to rotate over: healthy
// pinned nodes or all pinned ones if none is healthy, healthy nodes of the
// network or all of them if none is healthy.
func (x *execution[T]) candidates() []int {
	var res []int
	if x.pinned != nil {
		for _, pos := range x.pinned {
			if x.env.Network.IsHealthy(pos) {
				res = append(res, pos)
			}
		}
		if len(res) == 0 {
			res = append(res, x.pinned...)
		}
	} else {
		res = x.env.Network.HealthyPositions()
		if len(res) == 0 {
			x.log.Warn("no healthy nodes, using all of them")
			res = make([]int, x.env.Network.Len())
			for i := range res {
				res[i] = i
			}
		}
	}
	rand.Shuffle(len(res), func(i, j int) { res[i], res[j] = res[j], res[i] })
	return res
}

// pick returns the next healthy candidate in rotation order, or just the
// next one if all of them are unhealthy.
func (x *execution[T]) pick() int {
	n := len(x.cands)
	for i := 0; i < n; i++ {
		pos := x.cands[(x.next+i)%n]
		if x.env.Network.IsHealthy(pos) {
			x.next = (x.next + i + 1) % n
			return pos
		}
	}
	pos := x.cands[x.next%n]
	x.next = (x.next + 1) % n
	return pos
}

func (x *execution[T]) send(ctx context.Context, pos int, req *wire.Request) ([]byte, error) {
	conn, err := x.env.Network.Connection(pos)
	if err != nil {
		return nil, &connectionError{err: err}
	}
	actx := ctx
	if x.env.GRPCTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, x.env.GRPCTimeout)
		defer cancel()
	}
	raw, err := wire.Invoke(actx, conn, req.Method, req.Body)
	if err != nil && ctx.Err() == nil && actx.Err() != nil {
		return nil, errAttemptTimeout
	}
	return raw, err
}

func (x *execution[T]) sleep(ctx context.Context, d time.Duration) error {
	if x.env.Sleep != nil {
		return x.env.Sleep(ctx, d)
	}
	return backoff.Sleep(ctx, d)
}

// stopped converts context errors, deadlines become timeouts.
func (x *execution[T]) stopped(err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	cause := x.lastErr
	if cause == nil {
		cause = err
	}
	return &ledger.TimedOutError{Cause: cause}
}

func fatalTransport(err error) error {
	if st, ok := status.FromError(err); ok {
		return ledger.NewGrpcStatusError(st)
	}
	return err
}

func resultLabel(err error) string {
	var (
		timedOut *ledger.TimedOutError
		preCheck *ledger.PreCheckError
		grpcErr  *ledger.GrpcStatusError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &timedOut):
		return "timeout"
	case errors.As(err, &preCheck):
		return "precheck"
	case errors.As(err, &grpcErr):
		return "grpc"
	default:
		return "error"
	}
}
