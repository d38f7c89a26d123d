package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientError struct{ retryable bool }

func (err *transientError) Error() string   { return "transient test error" }
func (err *transientError) Transient() bool { return err.retryable }

func instrumented(policy Policy, delays *[]time.Duration) Policy {
	policy.sleep = func(_ context.Context, delay time.Duration) error {
		*delays = append(*delays, delay)
		return nil
	}
	return policy
}

func Test_Do_StopsAtAttemptCeiling(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	policy := instrumented(Policy{MaxAttempts: 3, InitialDelay: time.Second}, &delays)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return &transientError{retryable: true}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, delays, 2, "no sleep after the final attempt")
}

func Test_Do_BackoffDoublesUpToCap(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	policy := instrumented(Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second}, &delays)

	_ = policy.Do(context.Background(), func() error {
		return &transientError{retryable: true}
	})

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func Test_Do_NonTransientShortCircuits(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	policy := instrumented(Policy{MaxAttempts: 5, InitialDelay: time.Second}, &delays)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return errors.New("permanent")
	})

	assert.EqualError(t, err, "permanent")
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func Test_Do_WrappedTransientIsRecognised(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	policy := instrumented(Policy{MaxAttempts: 2, InitialDelay: time.Second}, &delays)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("request failed: %w", &transientError{retryable: true})
	})

	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func Test_Do_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var delays []time.Duration
	policy := instrumented(Policy{MaxAttempts: 4, InitialDelay: time.Second}, &delays)

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &transientError{retryable: true}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func Test_Do_ZeroValuePolicyRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return &transientError{retryable: true}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func Test_Do_CancelledContextAbortsBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := Policy{MaxAttempts: 3, InitialDelay: time.Minute}
	err := policy.Do(ctx, func() error {
		return &transientError{retryable: true}
	})

	assert.ErrorIs(t, err, context.Canceled)
}
