package retry

import (
	"context"
	"math"
	"time"

	retrylib "github.com/sethvargo/go-retry"
)

// Policy describes a bounded exponential backoff for outbound calls. The
// zero value is not usable; build one with NewPolicy or fill every field.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries every error.
	Retryable func(error) bool
}

// NewPolicy builds a policy with sane fallbacks for missing fields.
func NewPolicy(maxAttempts int, base, max time.Duration, multiplier float64, retryable func(error) bool) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if multiplier < 1 {
		multiplier = 2
	}
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Multiplier:  multiplier,
		Retryable:   retryable,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retrylib.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || p.Retryable(err) {
			return retrylib.RetryableError(err)
		}
		return err
	})
}

func (p Policy) backoff() retrylib.Backoff {
	attempt := 0
	var b retrylib.Backoff = retrylib.BackoffFunc(func() (time.Duration, bool) {
		delay := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt)))
		attempt++
		return delay, false
	})
	b = retrylib.WithCappedDuration(p.MaxDelay, b)
	b = retrylib.WithJitterPercent(10, b)
	b = retrylib.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	return b
}
