package common

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// ErrPermanent marks an error that must not be retried. Wrap it with
// fmt.Errorf("...: %w", ErrPermanent) or use Permanent.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent wraps err so that RetryPolicy.Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy is a bounded, fixed-delay retry rule. Delays never grow.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// NewRetryPolicy builds a policy from config values ("2s"-style delay).
func NewRetryPolicy(attempts int, delay string) RetryPolicy {
	return RetryPolicy{
		Attempts: attempts,
		Delay:    ParseDurationOr(delay, 2*time.Second),
	}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// used up, or ctx is cancelled. notify (optional) is called after every failed
// attempt. The error returned is the last error fn produced, or ctx.Err() when
// cancelled before any attempt could complete.
func (p RetryPolicy) Do(ctx context.Context, clk clock.Clock, fn func(attempt int) error, notify func(err error, attempt int)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Nanosecond // retry.Call requires a positive delay
	}
	if clk == nil {
		clk = clock.WallClock
	}

	var (
		attempt int
		last    error
		fatal   error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if err := ctx.Err(); err != nil {
				fatal = err
				return err
			}
			attempt++
			last = fn(attempt)
			return last
		},
		IsFatalError: func(err error) bool {
			if fatal != nil {
				return true
			}
			if errors.Is(err, ErrPermanent) {
				fatal = err
				return true
			}
			return false
		},
		NotifyFunc: func(err error, _ int) {
			if notify != nil {
				notify(err, attempt)
			}
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    clk,
		Stop:     ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case fatal != nil:
		return fatal
	case retry.IsRetryStopped(err) && ctx.Err() != nil:
		return ctx.Err()
	case last != nil:
		return last
	default:
		return err
	}
}
