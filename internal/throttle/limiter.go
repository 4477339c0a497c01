package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when the caller's context ends while waiting.
var ErrThrottled = errors.New("refresh throttled")

// Limiter is a token bucket. A nil Limiter never waits.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a Limiter allowing one refresh per every with the given burst.
// It returns nil when every <= 0.
func New(every time.Duration, burst int) *Limiter {
	if every <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(every), burst)}
}

// Wait blocks until a refresh may proceed.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return nil
}

// Allow reports whether a refresh may proceed now without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
