package provider

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/types"
)

// RetryPolicy controls how many times and how long the Provider module
// waits before retrying a failed upstream call. The zero value is not
// usable directly; construct one with DefaultRetryPolicy and override
// fields as needed.
type RetryPolicy struct {
	MaxRetries   int           // upper bound on retry attempts, excluding the first try
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // ceiling any computed delay is clamped to
	Multiplier   float64       // exponential backoff multiplier
	Jitter       bool          // add +/-25% jitter to avoid synchronized retries
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy returns the policy routecodex applies to outbound
// provider calls: two retries, 250ms initial backoff.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function under a retry policy.
type Retryer interface {
	Do(ctx context.Context, fn func() (*RetryOutcome, error)) (*RetryOutcome, error)
}

// RetryOutcome carries the information a retryer needs to decide whether
// a call is retryable beyond what the error alone says, namely an
// upstream-provided Retry-After hint.
type RetryOutcome struct {
	Response   any
	RetryAfter time.Duration // zero means "no hint"
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer builds a Retryer using exponential backoff with jitter.
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 250 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy, logger: logger}
}

// Do runs fn, retrying on retryable errors per IsRetryableUpstreamError.
// A 429 response that carried a Retry-After hint waits that long instead
// of the computed backoff delay; a 5xx response that carried one is not
// retried.
func (r *backoffRetryer) Do(ctx context.Context, fn func() (*RetryOutcome, error)) (*RetryOutcome, error) {
	var lastErr error
	var lastHint time.Duration

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			if lastHint > 0 {
				delay = lastHint
			}

			r.logger.Debug("retrying upstream call",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		outcome, err := fn()
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		lastHint = 0
		if outcome != nil {
			lastHint = outcome.RetryAfter
		}

		if !IsRetryableUpstreamError(err) {
			return nil, err
		}
		var te *types.Error
		if lastHint > 0 && errors.As(err, &te) && te.Code == types.ErrUpstreamUnavail {
			return nil, err
		}
		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	return nil, lastErr
}

func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

// IsRetryableUpstreamError classifies errors per the retry conditions:
// a connection reset before any response byte, a 5xx with no Retry-After,
// or a 429 (always retryable, honoring any Retry-After hint). 4xx other
// than 429, auth failures, and malformed-request errors never retry.
func IsRetryableUpstreamError(err error) bool {
	if err == nil {
		return false
	}
	var te *types.Error
	if errors.As(err, &te) {
		switch te.Code {
		case types.ErrNetworkError, types.ErrTimeout, types.ErrUpstreamTimeout,
			types.ErrUpstreamUnavail, types.ErrRateLimit, types.ErrRateLimited,
			types.ErrModelOverloaded, types.ErrProviderUnavailable, types.ErrServiceUnavailable:
			return true
		default:
			return te.Retryable
		}
	}
	return false
}
