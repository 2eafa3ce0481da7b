// Package ratelimit wraps golang.org/x/time/rate for the two places ddmq
// needs to throttle a loop instead of a single request: the serve process's
// clean-all ticker, and the synthetic load generator.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles a recurring action to at most rps times per second,
// with burst allowing that many actions through immediately before the
// steady-state rate applies.
type Limiter struct {
	lim *rate.Limiter
}

// New builds a Limiter. rps <= 0 disables throttling entirely (Wait always
// returns immediately), which is the natural "unset" behavior for a config
// field operators may leave at its zero value.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the limiter would allow one more action, or ctx is
// done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.lim == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
