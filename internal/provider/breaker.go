package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/types"
)

// State is the circuit breaker's lifecycle: Closed allows calls through,
// Open rejects them outright, HalfOpen lets a bounded trickle through to
// probe recovery.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one pipeline's circuit breaker. Each assembled
// pipeline gets its own breaker instance, keyed by PipelineID, so a
// failing provider/model/key triple never drags down its siblings.
type BreakerConfig struct {
	Threshold        int           // consecutive failures before tripping open
	Timeout          time.Duration // per-call deadline enforced by the breaker
	ResetTimeout     time.Duration // Open -> HalfOpen wait
	HalfOpenMaxCalls int           // probe calls allowed while HalfOpen
	OnStateChange    func(from, to State)
}

// DefaultBreakerConfig returns routecodex's standard per-pipeline breaker
// tuning.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Threshold:        5,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker guards a pipeline's outbound calls.
type CircuitBreaker interface {
	Call(ctx context.Context, fn func() (any, error)) (any, error)
	State() State
	Reset()
}

type breaker struct {
	config *BreakerConfig
	logger *zap.Logger

	mu                sync.RWMutex
	state             State
	failureCount      int
	lastFailureTime   time.Time
	halfOpenCallCount int
}

// NewCircuitBreaker builds a breaker. A nil logger disables logging.
func NewCircuitBreaker(config *BreakerConfig, logger *zap.Logger) CircuitBreaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{config: config, logger: logger, state: StateClosed}
}

// Call runs fn under the breaker's timeout and state machine. Upstream
// rejections (4xx other than 429) don't count as breaker failures — a
// client sending malformed requests shouldn't trip the circuit for
// everyone sharing the pipeline.
func (b *breaker) Call(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		result, err := fn()
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		b.afterCall(false)
		return nil, fmt.Errorf("call timed out: %w", callCtx.Err())

	case res := <-resultCh:
		success := res.err == nil || isUpstreamRejection(res.err)
		b.afterCall(success)
		if !success {
			return nil, res.err
		}
		return res.result, nil
	}
}

// isUpstreamRejection reports whether err reflects a problem with the
// request itself rather than the provider's health, so it should not
// count toward tripping the breaker.
func isUpstreamRejection(err error) bool {
	if err == nil {
		return false
	}
	var te *types.Error
	if errors.As(err, &te) {
		switch te.Code {
		case types.ErrInvalidRequest, types.ErrAuthentication, types.ErrUnauthorized,
			types.ErrForbidden, types.ErrQuotaExceeded, types.ErrContentFiltered,
			types.ErrToolValidation, types.ErrContextTooLong, types.ErrUpstreamRejected,
			types.ErrModelNotFound:
			return true
		}
	}
	return false
}

func (b *breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenCallCount = 0
			b.logger.Info("circuit breaker probing", zap.String("state", "half_open"))
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenCallCount >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.halfOpenCallCount++
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", b.state)
	}
}

func (b *breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.onSuccess()
	} else {
		b.onFailure()
	}
}

func (b *breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.logger.Info("circuit breaker closed", zap.Int("half_open_calls", b.halfOpenCallCount))
		b.setState(StateClosed)
		b.failureCount = 0
		b.halfOpenCallCount = 0
	case StateOpen:
		b.logger.Warn("success observed while circuit open")
	}
}

func (b *breaker) onFailure() {
	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.Threshold {
			b.logger.Warn("circuit breaker tripped",
				zap.Int("failure_count", b.failureCount),
				zap.Int("threshold", b.config.Threshold),
			)
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.logger.Warn("probe failed, circuit reopened")
		b.setState(StateOpen)
		b.halfOpenCallCount = 0
	case StateOpen:
		b.logger.Warn("failure observed while circuit already open")
	}
}

func (b *breaker) setState(newState State) {
	oldState := b.state
	b.state = newState
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

func (b *breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.state = StateClosed
	b.failureCount = 0
	b.halfOpenCallCount = 0
	b.logger.Info("circuit breaker reset", zap.String("from_state", oldState.String()))

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, StateClosed)
	}
}

var (
	ErrCircuitOpen            = errors.New("circuit breaker open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls in half-open state")
)
