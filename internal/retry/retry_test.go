package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engerrors "github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/errors"
)

func TestExecuteWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	e := New(Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}, nil)

	attempts := 0
	err := e.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return engerrors.New(engerrors.KindTransient, "temporary")
		}
		return nil
	}, DefaultClassifier)

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestExecuteWithRetryStopsImmediatelyOnFatalClassification(t *testing.T) {
	e := New(Config{MaxRetries: 5, InitialBackoff: time.Millisecond}, nil)

	attempts := 0
	err := e.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return engerrors.New(engerrors.KindSchema, "bad record")
	}, DefaultClassifier)

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestExecuteWithRetrySurfacesLastErrorAfterExhaustion(t *testing.T) {
	e := New(Config{MaxRetries: 2, InitialBackoff: time.Millisecond}, nil)

	attempts := 0
	err := e.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return engerrors.New(engerrors.KindTransient, "still failing")
	}, DefaultClassifier)

	require.Error(t, err)
	require.Equal(t, 3, attempts, "initial attempt plus MaxRetries retries")
}

func TestExecuteWithRetryAbortsOnContextCancellationDuringBackoff(t *testing.T) {
	e := New(Config{MaxRetries: 5, InitialBackoff: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	err := e.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		attempts++
		return engerrors.New(engerrors.KindTransient, "retryable")
	}, DefaultClassifier)

	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, attempts, 5)
}

func TestExecuteWithRetryHonorsRetryAfterOnRateLimitedError(t *testing.T) {
	e := New(Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond}, nil)

	attempts := 0
	start := time.Now()
	err := e.ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			rateLimited := engerrors.New(engerrors.KindTransient, "rate limited")
			rateLimited.RetryAfter = 1 // seconds
			return rateLimited
		}
		return nil
	}, DefaultClassifier)

	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After must lower-bound the backoff delay")
}

func TestBreakerOpensAfterConsecutiveFailuresAndShortCircuits(t *testing.T) {
	e := New(Config{
		MaxRetries: 0, InitialBackoff: time.Millisecond,
		BreakerName: "test", BreakerMaxFailures: 2, BreakerTimeout: time.Hour,
	}, nil)

	failing := func(ctx context.Context) error { return engerrors.New(engerrors.KindTransient, "down") }

	require.Error(t, e.ExecuteWithRetry(context.Background(), failing, DefaultClassifier))
	require.Error(t, e.ExecuteWithRetry(context.Background(), failing, DefaultClassifier))

	err := e.ExecuteWithRetry(context.Background(), failing, DefaultClassifier)
	require.True(t, errors.Is(err, ErrCircuitOpen))
}
