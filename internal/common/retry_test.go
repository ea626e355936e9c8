package common

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep 记录每次退避时长而不真正等待
func recordSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	tests := []struct {
		name             string
		failUntilN       int
		maxRetries       int
		expectedAttempts int
		shouldSucceed    bool
	}{
		{name: "success on second attempt", failUntilN: 2, maxRetries: 3, expectedAttempts: 2, shouldSucceed: true},
		{name: "success on last retry", failUntilN: 4, maxRetries: 3, expectedAttempts: 4, shouldSucceed: true},
		{name: "fail all attempts", failUntilN: 10, maxRetries: 3, expectedAttempts: 4, shouldSucceed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			attempts := 0

			err := Do(context.Background(), func() error {
				attempts++
				if attempts < tt.failUntilN {
					return errors.New("temporary failure")
				}
				return nil
			}, WithMaxRetries(tt.maxRetries), WithSleep(recordSleep(&delays)))

			if tt.shouldSucceed {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Equal(t, tt.expectedAttempts, attempts)
			assert.Len(t, delays, tt.expectedAttempts-1)
		})
	}
}

func TestDo_ExponentialDelays(t *testing.T) {
	var delays []time.Duration

	_ = Do(context.Background(), func() error {
		return errors.New("always fails")
	},
		WithMaxRetries(3),
		WithInitialDelay(2*time.Second),
		WithMultiplier(2),
		WithSleep(recordSleep(&delays)),
	)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestDo_Jitter(t *testing.T) {
	var delays []time.Duration

	_ = Do(context.Background(), func() error {
		return errors.New("always fails")
	},
		WithMaxRetries(2),
		WithInitialDelay(time.Second),
		WithJitter(500*time.Millisecond),
		WithSleep(recordSleep(&delays)),
	)

	require.Len(t, delays, 2)
	assert.GreaterOrEqual(t, delays[0], time.Second)
	assert.Less(t, delays[0], 1500*time.Millisecond)
	assert.GreaterOrEqual(t, delays[1], 2*time.Second)
	assert.Less(t, delays[1], 2500*time.Millisecond)
}

func TestDo_RetryIf(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0

	err := Do(context.Background(), func() error {
		attempts++
		return permanent
	},
		WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	assert.Equal(t, 1, attempts)
	// 不可重试的错误原样返回
	assert.Same(t, permanent, err)
}

func TestDo_ContextCancellation(t *testing.T) {
	tests := []struct {
		name          string
		cancelAfter   time.Duration
		initialDelay  time.Duration
		expectedError error
	}{
		{name: "cancel before retry", cancelAfter: 5 * time.Millisecond, initialDelay: 100 * time.Millisecond, expectedError: context.Canceled},
		{name: "cancel during backoff", cancelAfter: 20 * time.Millisecond, initialDelay: 10 * time.Millisecond, expectedError: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go func() {
				time.Sleep(tt.cancelAfter)
				cancel()
			}()

			attempts := 0
			err := Do(ctx, func() error {
				attempts++
				return errors.New("always fails")
			}, WithInitialDelay(tt.initialDelay), WithMaxRetries(5))

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expectedError)
			assert.NotZero(t, attempts)
		})
	}
}

func TestDo_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Do(ctx, func() error {
		return errors.New("always fails")
	}, WithInitialDelay(30*time.Millisecond), WithMaxRetries(10))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_NilFunction(t *testing.T) {
	err := Do(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, "retry: function cannot be nil", err.Error())
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		name         string
		attempt      int
		initialDelay time.Duration
		maxDelay     time.Duration
		multiplier   float64
		expected     time.Duration
	}{
		{name: "first retry", attempt: 1, initialDelay: 100 * time.Millisecond, maxDelay: time.Second, multiplier: 2.0, expected: 100 * time.Millisecond},
		{name: "second retry", attempt: 2, initialDelay: 100 * time.Millisecond, maxDelay: time.Second, multiplier: 2.0, expected: 200 * time.Millisecond},
		{name: "third retry", attempt: 3, initialDelay: 100 * time.Millisecond, maxDelay: time.Second, multiplier: 2.0, expected: 400 * time.Millisecond},
		{name: "capped at max delay", attempt: 5, initialDelay: 100 * time.Millisecond, maxDelay: 500 * time.Millisecond, multiplier: 2.0, expected: 500 * time.Millisecond},
		{name: "multiplier of 1.5", attempt: 2, initialDelay: 100 * time.Millisecond, maxDelay: time.Second, multiplier: 1.5, expected: 150 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, calculateDelay(tt.attempt, tt.initialDelay, tt.maxDelay, tt.multiplier))
		})
	}
}

func TestDo_ErrorWrapping(t *testing.T) {
	originalErr := errors.New("original error")

	err := Do(context.Background(), func() error {
		return originalErr
	}, WithMaxRetries(2), WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, originalErr)
	assert.True(t, strings.Contains(err.Error(), "retry failed after 3 attempts"))
}

func TestDo_InvalidOptions(t *testing.T) {
	// 非法参数被忽略，使用默认值
	err := Do(context.Background(), func() error {
		return nil
	},
		WithMaxRetries(-1),
		WithInitialDelay(-1),
		WithMaxDelay(-1),
		WithMultiplier(-1),
		WithJitter(-1),
		WithRetryIf(nil),
		WithSleep(nil),
	)

	assert.NoError(t, err)
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))
}

func BenchmarkDo_Success(b *testing.B) {
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		_ = Do(ctx, func() error {
			return nil
		})
	}
}
