// Package retry provides a bounded polling combinator used for lock
// acquisition and login waits. The timeout policy is declared once per call
// site instead of hand-rolled ticker bookkeeping.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt ran without the predicate
// reporting done.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes a bounded poll: run the predicate up to MaxAttempts times,
// sleeping Interval between attempts.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Budget returns the total wall-clock time the policy may consume.
func (p Policy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// Until polls pred until it reports done, returns an error, the context is
// cancelled, or the attempt budget is exhausted. The first attempt runs
// immediately.
func (p Policy) Until(ctx context.Context, pred func(ctx context.Context) (done bool, err error)) error {
	if p.MaxAttempts <= 0 {
		return ErrExhausted
	}

	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer.Reset(p.Interval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}

		done, err := pred(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}
