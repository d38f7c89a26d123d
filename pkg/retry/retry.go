// Package retry provides a reusable bounded retry policy with
// exponential backoff. Callers wrap remote calls which may fail
// transiently (rate limits, server errors) and classify which
// failures are worth retrying.
package retry

import (
	"context"
	"errors"
	"time"
)

// Transient is implemented by errors which represent a temporary
// failure. Errors implementing this interface (and reporting true)
// are retried; all other errors abort the attempt loop immediately.
type Transient interface {
	Transient() bool
}

// Policy describes a bounded exponential backoff retry loop.
// The zero value performs a single attempt with no retries.
type Policy struct {
	// MaxAttempts caps the total number of attempts, including
	// the first. Values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the pause before the second attempt. Each
	// subsequent pause doubles, capped at MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// sleep is swapped out by tests to avoid real waiting.
	sleep func(context.Context, time.Duration) error
}

// Do runs fn until it succeeds, returns a non-transient error, or
// the attempt ceiling is reached. The last error observed is
// returned once the policy gives up.
func (policy Policy) Do(ctx context.Context, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := policy.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !isTransient(lastErr) {
			return lastErr
		}

		if attempt == attempts {
			break
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return lastErr
}

func isTransient(err error) bool {
	var transient Transient
	return errors.As(err, &transient) && transient.Transient()
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
