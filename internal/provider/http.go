// Package provider implements the fourth pipeline stage: turning a
// normalized dto.Request into an outbound HTTP call against a concrete
// provider endpoint, with the resiliency layer (retry, circuit breaker,
// rate limiting) every such call goes through.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/routecodex/routecodex/config"
	"github.com/routecodex/routecodex/internal/auth"
	"github.com/routecodex/routecodex/internal/tlsutil"
	"github.com/routecodex/routecodex/types"
)

// Config is the per-pipeline HTTP execution configuration the assembler
// builds from a NormalizedProvider entry.
type Config struct {
	ProviderID     string
	BaseURL        string
	EndpointPath   string // e.g. "/v1/chat/completions"
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RateLimit      rate.Limit // requests/sec; zero disables limiting
	RateBurst      int
}

// DefaultConfig fills in routecodex's standard outbound timeouts.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    300 * time.Second,
	}
}

// Credential supplies the Authorization header value for one call. It is
// resolved once per pipeline assembly for static keys, or re-resolved per
// call for OAuth identities whose access token may need a refresh.
type Credential interface {
	AuthHeader(ctx context.Context) (string, error)
}

// StaticKeyCredential always returns the same bearer token.
type StaticKeyCredential string

func (c StaticKeyCredential) AuthHeader(context.Context) (string, error) {
	return "Bearer " + string(c), nil
}

// OAuthCredential resolves a bearer token through an auth.Manager,
// transparently refreshing it when it has expired or is about to.
type OAuthCredential struct {
	Manager *auth.Manager
	Desc    config.NormalizedOAuth
}

func (c OAuthCredential) AuthHeader(ctx context.Context) (string, error) {
	tok, err := c.Manager.AccessToken(ctx, c.Desc)
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// Module is the Provider pipeline module: it executes a prepared request
// body against the upstream endpoint and returns the raw response bytes
// (or a streaming body reader), applying retry and circuit-breaking.
type Module struct {
	cfg        Config
	client     *http.Client
	credential Credential
	retryer    Retryer
	breaker    CircuitBreaker
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New builds a Provider module for one assembled pipeline.
func New(cfg Config, credential Credential, logger *zap.Logger) *Module {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transportCfg := tlsutil.DefaultTransportConfig()
	transportCfg.ConnectTimeout = cfg.ConnectTimeout

	breakerCfg := DefaultBreakerConfig()
	breakerCfg.Timeout = cfg.ReadTimeout

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return &Module{
		cfg:        cfg,
		client:     tlsutil.SecureHTTPClient(transportCfg),
		credential: credential,
		retryer:    NewBackoffRetryer(DefaultRetryPolicy(), logger),
		breaker:    NewCircuitBreaker(breakerCfg, logger),
		limiter:    limiter,
		logger:     logger.With(zap.String("provider", cfg.ProviderID)),
	}
}

// CallResult is the raw upstream response handed back to the
// Compatibility stage: either a fully-buffered body (non-streaming) or an
// open body reader the caller must close after consuming (streaming).
type CallResult struct {
	StatusCode int
	Body       []byte
	Stream     io.ReadCloser // non-nil only when the caller requested streaming
}

// Execute sends payload to the endpoint and returns the upstream response,
// applying the circuit breaker, retry policy, and rate limiter in that
// order: the breaker gates admission, the retryer governs attempts within
// an admitted call, and the limiter paces the attempts themselves.
func (m *Module) Execute(ctx context.Context, payload []byte, stream bool) (*CallResult, error) {
	result, err := m.breaker.Call(ctx, func() (any, error) {
		outcome, err := m.retryer.Do(ctx, func() (*RetryOutcome, error) {
			if m.limiter != nil {
				if err := m.limiter.Wait(ctx); err != nil {
					return nil, types.NewError(types.ErrRequestCancelled, "rate limiter wait cancelled").WithCause(err)
				}
			}
			return m.attempt(ctx, payload, stream)
		})
		if err != nil {
			return nil, err
		}
		return outcome.Response, nil
	})
	if err != nil {
		if err == ErrCircuitOpen || err == ErrTooManyCallsInHalfOpen {
			return nil, types.NewError(types.ErrUpstreamUnavail, err.Error()).WithRetryable(true).WithProvider(m.cfg.ProviderID)
		}
		return nil, err
	}
	return result.(*CallResult), nil
}

// Healthy reports whether this pipeline's circuit breaker currently allows
// calls through. The route selector consults this to skip a pipeline
// whose upstream has tripped its breaker, per route.Health.
func (m *Module) Healthy() bool {
	return m.breaker.State() != StateOpen
}

// HealthCheck performs one active reachability probe against the
// provider's base URL, independent of the passive circuit-breaker signal
// Healthy reports. It does not go through the breaker or retryer: a single
// failed probe should be visible immediately, not retried or counted
// against the breaker's trip threshold.
func (m *Module) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return types.NewError(types.ErrUpstreamUnavail, "health check returned "+strconv.Itoa(resp.StatusCode)).WithProvider(m.cfg.ProviderID)
	}
	return nil
}

// attempt performs exactly one HTTP round trip and classifies the outcome
// into the pipeline error taxonomy.
func (m *Module) attempt(ctx context.Context, payload []byte, stream bool) (*RetryOutcome, error) {
	authHeader, err := m.credential.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}

	url := m.cfg.BaseURL + m.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to build upstream request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", authHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, m.cfg.ProviderID)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &RetryOutcome{RetryAfter: retryAfter(resp.Header)}, mapHTTPError(resp.StatusCode, string(body), m.cfg.ProviderID)
	}

	if stream {
		return &RetryOutcome{Response: &CallResult{StatusCode: resp.StatusCode, Stream: resp.Body}}, nil
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrNetworkError, "failed reading upstream response body").
			WithCause(err).WithRetryable(true).WithProvider(m.cfg.ProviderID)
	}
	return &RetryOutcome{Response: &CallResult{StatusCode: resp.StatusCode, Body: body}}, nil
}

// classifyTransportError wraps a transport-level failure (connection
// refused/reset, DNS failure, TLS handshake failure) as a retryable
// network error — no response byte was ever received, so retrying is
// always safe.
func classifyTransportError(err error, providerID string) error {
	return types.NewError(types.ErrNetworkError, err.Error()).
		WithCause(err).WithRetryable(true).WithProvider(providerID)
}

// mapHTTPError maps an upstream status code to the pipeline error taxonomy.
func mapHTTPError(status int, body, providerID string) error {
	msg := extractErrorMessage(body)
	switch {
	case status == 401 || status == 403:
		return types.NewError(types.ErrAuthentication, msg).
			WithHTTPStatus(status).WithProvider(providerID)
	case status == 429:
		return types.NewError(types.ErrRateLimit, msg).
			WithHTTPStatus(status).WithRetryable(true).WithProvider(providerID)
	case status == 400 || status == 422:
		return types.NewError(types.ErrUpstreamRejected, msg).
			WithHTTPStatus(status).WithProvider(providerID)
	case status >= 500:
		return types.NewError(types.ErrUpstreamUnavail, msg).
			WithHTTPStatus(status).WithRetryable(true).WithProvider(providerID)
	default:
		return types.NewError(types.ErrUpstreamRejected, msg).
			WithHTTPStatus(status).WithProvider(providerID)
	}
}

func extractErrorMessage(body string) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if len(body) > 500 {
		return body[:500]
	}
	return body
}

// retryAfter parses a Retry-After header (seconds form) into a duration,
// returning zero when absent or unparseable so the retryer falls back to
// its own backoff schedule.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
