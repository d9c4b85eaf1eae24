package base

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

const maxRetryDelay = 30 * time.Minute

// RetryPolicy retries a delivery with capped backoff. Delays never
// decrease between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Retryable decides whether a failed attempt is tried again. When nil,
	// every error that is not terminal is retried.
	Retryable func(err error) bool

	// OnRetry, when set, is called before each wait with the attempt that
	// just failed (1-based) and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// FromDelivery builds the policy a stream processor uses for a flush:
// max_retries+1 attempts, waiting retry_backoff * 2^(attempt-1) between
// them.
func FromDelivery(d models.Delivery) *RetryPolicy {
	attempts := d.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	return &RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: d.RetryBackoff(),
		MaxDelay:     maxRetryDelay,
		Multiplier:   2.0,
	}
}

// ConstantRetry tries once plus retries more times, waiting interval
// between attempts. Sinks with their own retry setting use it.
func ConstantRetry(retries int, interval time.Duration) *RetryPolicy {
	if retries < 0 {
		retries = 0
	}
	return &RetryPolicy{
		MaxAttempts:  retries + 1,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
	}
}

// Do runs fn until it succeeds, fails with an error that is not
// retryable, runs out of attempts or ctx is cancelled during a wait.
func (rp *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !rp.retryable(err) || attempt == attempts-1 {
			break
		}

		delay := rp.Delay(attempt)
		if rp.OnRetry != nil {
			rp.OnRetry(attempt+1, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	if attempts == 1 || !rp.retryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// Delay is the wait after the given failed attempt (0-based).
func (rp *RetryPolicy) Delay(attempt int) time.Duration {
	mult := rp.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(rp.InitialDelay) * math.Pow(mult, float64(attempt))
	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}
	return time.Duration(delay)
}

func (rp *RetryPolicy) retryable(err error) bool {
	if rp.Retryable != nil {
		return rp.Retryable(err)
	}
	return !errors.IsTerminal(err)
}
