package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/types"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{Threshold: 2, Timeout: time.Second, ResetTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		_, err := cb.Call(context.Background(), func() (any, error) {
			return nil, types.NewError(types.ErrUpstreamUnavail, "down").WithRetryable(true)
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Call(context.Background(), func() (any, error) {
		return "should not run", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_ClientErrorsDontTripBreaker(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{Threshold: 2, Timeout: time.Second}, nil)

	for i := 0; i < 5; i++ {
		_, err := cb.Call(context.Background(), func() (any, error) {
			return nil, types.NewError(types.ErrInvalidRequest, "bad")
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{Threshold: 1, Timeout: time.Second, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1}, nil)

	_, err := cb.Call(context.Background(), func() (any, error) {
		return nil, types.NewError(types.ErrUpstreamUnavail, "down").WithRetryable(true)
	})
	require.Error(t, err)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	result, err := cb.Call(context.Background(), func() (any, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(&BreakerConfig{Threshold: 1, Timeout: time.Second}, nil)
	_, _ = cb.Call(context.Background(), func() (any, error) {
		return nil, types.NewError(types.ErrUpstreamUnavail, "down").WithRetryable(true)
	})
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}
