package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(3), nil, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), fastConfig(2), nil, "submit", func(context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)
	require.Contains(t, err.Error(), "submit failed after 2 attempts")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Attempts)
	require.Same(t, boom, LastError(err))
}

func TestLastError_PassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("plain")
	require.Same(t, plain, LastError(plain))
	require.Nil(t, LastError(nil))
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), fastConfig(5), nil, "op", func(context.Context) error {
		calls++
		return Permanent(bad)
	})
	require.ErrorIs(t, err, bad)
	require.True(t, IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, BackoffFactor: 2}

	calls := 0
	err := Retry(ctx, cfg, nil, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("temporary")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestRetryConfig_Normalized(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 0, InitialDelay: time.Second, MaxDelay: time.Millisecond, BackoffFactor: 0}.normalized()
	require.Equal(t, 1, cfg.MaxAttempts)
	require.Equal(t, time.Millisecond, cfg.InitialDelay)
	require.Equal(t, float64(1), cfg.BackoffFactor)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("printprovider", 2, 20*time.Millisecond, nil)

	fail := errors.New("503")
	require.ErrorIs(t, cb.Execute(func() error { return fail }), fail)
	require.Equal(t, gobreaker.StateClosed, cb.State())
	require.ErrorIs(t, cb.Execute(func() error { return fail }), fail)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)

	require.Eventually(t, func() bool { return cb.State() == gobreaker.StateHalfOpen }, time.Second, 5*time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("stripe", 1, 20*time.Millisecond, nil)

	_ = cb.Execute(func() error { return errors.New("down") })
	require.Equal(t, gobreaker.StateOpen, cb.State())

	require.Eventually(t, func() bool { return cb.State() == gobreaker.StateHalfOpen }, time.Second, 5*time.Millisecond)
	_ = cb.Execute(func() error { return errors.New("still down") })
	require.Equal(t, gobreaker.StateOpen, cb.State())
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("printprovider", 1, time.Minute, nil)
	bad := errors.New("422")
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, cb.Execute(func() error { return Permanent(bad) }), bad)
	}
	require.Equal(t, gobreaker.StateClosed, cb.State())
	require.Equal(t, "closed", cb.State().String())
}
