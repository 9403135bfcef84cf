package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/types"
)

func TestBackoffRetryer_SucceedsAfterRetries(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	retryer := NewBackoffRetryer(policy, nil)

	attempts := 0
	outcome, err := retryer.Do(context.Background(), func() (*RetryOutcome, error) {
		attempts++
		if attempts < 3 {
			return nil, types.NewError(types.ErrNetworkError, "reset").WithRetryable(true)
		}
		return &RetryOutcome{Response: "ok"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", outcome.Response)
	assert.Equal(t, 3, attempts)
}

func TestBackoffRetryer_NonRetryableFailsImmediately(t *testing.T) {
	retryer := NewBackoffRetryer(DefaultRetryPolicy(), nil)

	attempts := 0
	_, err := retryer.Do(context.Background(), func() (*RetryOutcome, error) {
		attempts++
		return nil, types.NewError(types.ErrInvalidRequest, "bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoffRetryer_ExhaustsMaxRetries(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 1
	policy.InitialDelay = time.Millisecond
	retryer := NewBackoffRetryer(policy, nil)

	attempts := 0
	_, err := retryer.Do(context.Background(), func() (*RetryOutcome, error) {
		attempts++
		return nil, types.NewError(types.ErrUpstreamUnavail, "down").WithRetryable(true)
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts) // first try + 1 retry
}

func TestBackoffRetryer_HonorsRetryAfterHint(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = time.Hour // would block the test if the hint weren't honored
	policy.MaxDelay = time.Hour
	retryer := NewBackoffRetryer(policy, nil)

	attempts := 0
	start := time.Now()
	_, err := retryer.Do(context.Background(), func() (*RetryOutcome, error) {
		attempts++
		if attempts == 1 {
			return &RetryOutcome{RetryAfter: 5 * time.Millisecond}, types.NewError(types.ErrRateLimit, "slow down").WithRetryable(true)
		}
		return &RetryOutcome{Response: "ok"}, nil
	})

	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffRetryer_ContextCancellationStopsRetries(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = time.Second
	retryer := NewBackoffRetryer(policy, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := retryer.Do(ctx, func() (*RetryOutcome, error) {
		attempts++
		return nil, types.NewError(types.ErrNetworkError, "reset").WithRetryable(true)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsRetryableUpstreamError(t *testing.T) {
	assert.True(t, IsRetryableUpstreamError(types.NewError(types.ErrNetworkError, "x")))
	assert.True(t, IsRetryableUpstreamError(types.NewError(types.ErrRateLimit, "x")))
	assert.False(t, IsRetryableUpstreamError(types.NewError(types.ErrInvalidRequest, "x")))
	assert.False(t, IsRetryableUpstreamError(nil))
	assert.False(t, IsRetryableUpstreamError(errors.New("plain error")))
}
