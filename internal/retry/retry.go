// Package retry factors the ad-hoc attempt-counter-plus-exponential-
// backoff loops scattered through upstream client calls into a single
// reusable policy, used by every HistoricalEngine upstream call site
// instead of each call site hand-rolling its own loop.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded exponential backoff with jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Cap         time.Duration
	Jitter      float64 // fraction of the computed delay to randomize, e.g. 0.2
	RetryOn     func(err error) bool
}

// Default is the recommended policy from §4.6: up to 3 attempts,
// starting at 250ms, capped at 2s.
func Default(retryOn func(err error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		Cap:         2 * time.Second,
		Jitter:      0.2,
		RetryOn:     retryOn,
	}
}

// Do runs fn up to MaxAttempts times, sleeping a jittered exponential
// backoff between attempts, stopping early if ctx is canceled or
// RetryOn(err) is false. Returns the last error if every attempt fails.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if p.RetryOn != nil && !p.RetryOn(err) {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.delayFor(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (p Policy) delayFor(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter <= 0 {
		return d
	}
	jitterRange := float64(d) * p.Jitter
	offset := (rand.Float64()*2 - 1) * jitterRange
	d = time.Duration(float64(d) + offset)
	if d < 0 {
		d = 0
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}
