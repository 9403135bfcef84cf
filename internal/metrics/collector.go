// Package metrics provides Prometheus metrics collection for the HTTP
// shell, the four-stage pipeline, route selection, and OAuth refresh.
// This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds every Prometheus vector RouteCodex records against,
// grouped by the subsystem that owns it.
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	pipelineExecutionsTotal   *prometheus.CounterVec
	pipelineExecutionDuration *prometheus.HistogramVec
	pipelineStageDuration     *prometheus.HistogramVec

	routeSelectionsTotal *prometheus.CounterVec

	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerTokensUsed      *prometheus.CounterVec

	oauthRefreshTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace via promauto, so
// callers never manage a prometheus.Registry by hand.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests received by the entry protocol endpoint",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request body size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response body size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.pipelineExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_executions_total",
			Help:      "Total number of pipeline runs, by pipeline id and outcome",
		},
		[]string{"pipeline_id", "status"},
	)

	c.pipelineExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_execution_duration_seconds",
			Help:      "End-to-end pipeline run duration in seconds, forward and reverse traversal combined",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"pipeline_id"},
	)

	c.pipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of a single stage traversal (LLMSwitch, Workflow, Compatibility, Provider)",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"pipeline_id", "stage", "direction"},
	)

	c.routeSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_selections_total",
			Help:      "Total number of route-category selections, by category and chosen pipeline",
		},
		[]string{"category", "pipeline_id"},
	)

	c.providerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of upstream provider HTTP calls, by provider, model, and outcome",
		},
		[]string{"provider", "model", "status"},
	)

	c.providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream provider HTTP call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.providerTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_used_total",
			Help:      "Total number of tokens reported by upstream providers",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.oauthRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_refresh_total",
			Help:      "Total number of OAuth access token refresh attempts, by family and outcome",
		},
		[]string{"family", "outcome"}, // outcome: success, failed
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one completed HTTP request/response round trip.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordPipelineExecution records one full forward+reverse pipeline run.
func (c *Collector) RecordPipelineExecution(pipelineID, status string, duration time.Duration) {
	c.pipelineExecutionsTotal.WithLabelValues(pipelineID, status).Inc()
	c.pipelineExecutionDuration.WithLabelValues(pipelineID).Observe(duration.Seconds())
}

// RecordStageDuration records one stage's ProcessIncoming/ProcessOutgoing
// (or Execute) call. direction is "incoming" or "outgoing".
func (c *Collector) RecordStageDuration(pipelineID, stage, direction string, duration time.Duration) {
	c.pipelineStageDuration.WithLabelValues(pipelineID, stage, direction).Observe(duration.Seconds())
}

// RecordRouteSelection records one Route Selector category→pipeline
// decision.
func (c *Collector) RecordRouteSelection(category, pipelineID string) {
	c.routeSelectionsTotal.WithLabelValues(category, pipelineID).Inc()
}

// RecordProviderRequest records one upstream HTTP call made by the
// Provider stage, including token usage when the response reported it.
func (c *Collector) RecordProviderRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.providerRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.providerRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.providerTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.providerTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordOAuthRefresh records the outcome of one OAuth access token refresh
// attempt performed by the Auth Resolver's singleflight-serialized path.
func (c *Collector) RecordOAuthRefresh(family, outcome string) {
	c.oauthRefreshTotal.WithLabelValues(family, outcome).Inc()
}

func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
