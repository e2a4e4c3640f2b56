// Package backoff retries a fallible operation with exponentially growing
// waits and abandons it once the total time spent waiting would pass a ceiling.
//
// The wait between attempts N and N+1 is Initial * Factor^(N-1). Before each
// wait the controller checks whether the accumulated wait plus the next delay
// stays within Ceiling; if not, it gives up and returns an *AbandonedError
// carrying the last failure. Waits only suspend the calling goroutine.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

// ErrAbandoned is matched by every *AbandonedError.
var ErrAbandoned = errors.New("backoff ceiling exceeded")

// Policy parameterizes a retry sequence.
type Policy struct {
	Initial time.Duration
	Factor  float64
	Ceiling time.Duration
}

// InvitePolicy is used for room invitations: 2s, doubling, abandoned past one hour of waiting.
var InvitePolicy = Policy{Initial: 2 * time.Second, Factor: 2, Ceiling: time.Hour}

// AbandonedError reports a sequence that hit the ceiling.
type AbandonedError struct {
	Attempts int
	Waited   time.Duration
	Last     error
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("abandoned after %d attempts (%s waited): %v", e.Attempts, e.Waited, e.Last)
}

func (e *AbandonedError) Unwrap() []error { return []error{ErrAbandoned, e.Last} }

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// NotifyFunc observes a failed attempt and the delay scheduled before the next one.
type NotifyFunc func(attempt int, err error, next time.Duration)

type options struct {
	sleep  Sleeper
	notify NotifyFunc
}

// Option customizes a single Retry call.
type Option func(*options)

// WithSleeper replaces the timer-based wait (used by tests to observe delays).
func WithSleeper(s Sleeper) Option { return func(o *options) { o.sleep = s } }

// WithNotify registers a callback invoked before every wait.
func WithNotify(fn NotifyFunc) Option { return func(o *options) { o.notify = fn } }

// Retry runs op until it succeeds, the ceiling is reached, or ctx is done.
func Retry(ctx context.Context, p Policy, op func(ctx context.Context) error, opts ...Option) error {
	if op == nil {
		return errors.New("backoff: nil operation")
	}
	o := options{sleep: timerSleep}
	for _, opt := range opts {
		opt(&o)
	}
	p = p.normalize()
	delays := p.delays()

	var waited time.Duration
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		next := delays.NextBackOff()
		if waited+next > p.Ceiling {
			return &AbandonedError{Attempts: attempt, Waited: waited, Last: err}
		}
		if o.notify != nil {
			o.notify(attempt, err, next)
		}
		if serr := o.sleep(ctx, next); serr != nil {
			return fmt.Errorf("retry interrupted after %d attempts (last error: %v): %w", attempt, err, serr)
		}
		waited += next
	}
}

// Delays lists the waits a sequence of consecutive failures would incur before abandonment.
func (p Policy) Delays() []time.Duration {
	p = p.normalize()
	gen := p.delays()
	var out []time.Duration
	var waited time.Duration
	for {
		next := gen.NextBackOff()
		if waited+next > p.Ceiling {
			return out
		}
		out = append(out, next)
		waited += next
	}
}

func (p Policy) normalize() Policy {
	if p.Initial <= 0 {
		p.Initial = InvitePolicy.Initial
	}
	if p.Factor <= 1 {
		p.Factor = InvitePolicy.Factor
	}
	if p.Ceiling <= 0 {
		p.Ceiling = InvitePolicy.Ceiling
	}
	return p
}

// delays builds a jitter-free exponential generator for the policy.
func (p Policy) delays() *cbackoff.ExponentialBackOff {
	b := &cbackoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: 0,
		Multiplier:          p.Factor,
		MaxInterval:         p.Ceiling,
	}
	b.Reset()
	return b
}

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
