/*
Package backoff provides exponential backoff with jitter used for every retry
loop of the engine. It's a thin layer over github.com/cenkalti/backoff that
caps jittered delays and gives bounded and unbounded flavours.
*/
package backoff

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock provides current time for elapsed time tracking.
type Clock = backoff.Clock

// Config describes an exponential backoff sequence.
type Config struct {
	// InitialInterval is the first delay returned after a reset.
	InitialInterval time.Duration
	// MaxInterval caps every delay.
	MaxInterval time.Duration
	// Multiplier is applied to the interval after every step.
	Multiplier float64
	// RandomizationFactor sets the jitter, the delay is picked from
	// [interval*(1-f), interval*(1+f)]. Zero disables jitter.
	RandomizationFactor float64
	// MaxElapsedTime is the budget after which Next reports exhaustion,
	// zero means no limit.
	MaxElapsedTime time.Duration
}

// Policy is a stateful backoff sequence, it's not safe for concurrent use.
type Policy struct {
	b   *backoff.ExponentialBackOff
	max time.Duration
}

// DefaultConfig returns the default backoff configuration: 500ms initial and
// 60s max interval, 1.5 multiplier, 0.5 randomization and 15 minutes budget.
func DefaultConfig() Config {
	return Config{
		InitialInterval:     backoff.DefaultInitialInterval,
		MaxInterval:         backoff.DefaultMaxInterval,
		Multiplier:          backoff.DefaultMultiplier,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		MaxElapsedTime:      backoff.DefaultMaxElapsedTime,
	}
}

// New creates a policy from the given configuration. Zero intervals and
// multiplier are replaced with defaults. The policy is bounded if
// MaxElapsedTime is set.
func New(cfg Config) *Policy {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = backoff.DefaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = backoff.DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = backoff.DefaultMultiplier
	}
	if cfg.MaxElapsedTime < 0 {
		cfg.MaxElapsedTime = 0
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		RandomizationFactor: cfg.RandomizationFactor,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxInterval,
		MaxElapsedTime:      cfg.MaxElapsedTime,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return &Policy{b: b, max: cfg.MaxInterval}
}

// Unbounded creates a policy that never runs out of budget.
func Unbounded(cfg Config) *Policy {
	cfg.MaxElapsedTime = 0
	return New(cfg)
}

// WithClock replaces the clock used for elapsed time tracking and resets the
// policy.
func (p *Policy) WithClock(c Clock) *Policy {
	p.b.Clock = c
	p.b.Reset()
	return p
}

// Next returns the next delay. It returns false when the elapsed time budget
// would be exceeded by waiting.
func (p *Policy) Next() (time.Duration, bool) {
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	if d > p.max {
		d = p.max
	}
	return d, true
}

// Reset restores the initial interval and restarts elapsed time tracking.
func (p *Policy) Reset() {
	p.b.Reset()
}

// Elapsed returns the time passed since the last reset.
func (p *Policy) Elapsed() time.Duration {
	return p.b.GetElapsedTime()
}

// Bounded tells whether the policy has an elapsed time budget.
func (p *Policy) Bounded() bool {
	return p.b.MaxElapsedTime != 0
}

// Sleep waits for d or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
