package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.pipelineExecutionsTotal)
	assert.NotNil(t, collector.pipelineStageDuration)
	assert.NotNil(t, collector.routeSelectionsTotal)
	assert.NotNil(t, collector.providerRequestsTotal)
	assert.NotNil(t, collector.providerTokensUsed)
	assert.NotNil(t, collector.oauthRefreshTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordHTTPRequest("POST", "/v1/chat/completions", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("POST", "/v1/chat/completions", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordPipelineExecution(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordPipelineExecution("glm-primary", "success", 1*time.Second)

	count := testutil.CollectAndCount(collector.pipelineExecutionsTotal)
	assert.Greater(t, count, 0)

	durationCount := testutil.CollectAndCount(collector.pipelineExecutionDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_RecordStageDuration(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordStageDuration("glm-primary", "provider", "incoming", 20*time.Millisecond)

	count := testutil.CollectAndCount(collector.pipelineStageDuration)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordRouteSelection(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRouteSelection("default", "glm-primary")

	count := testutil.CollectAndCount(collector.routeSelectionsTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_RecordProviderRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordProviderRequest(
		"glm",
		"glm-4.6",
		"success",
		500*time.Millisecond,
		100, // prompt tokens
		50,  // completion tokens
	)

	count := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.providerTokensUsed)
	assert.Greater(t, tokensCount, 0)
}

func TestCollector_RecordProviderRequest_ZeroTokens(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// A failed call reports no usage; the token counter must stay untouched.
	collector.RecordProviderRequest("qwen", "qwen-max", "error", 10*time.Millisecond, 0, 0)

	count := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.providerTokensUsed)
	assert.Equal(t, 0, tokensCount)
}

func TestCollector_RecordOAuthRefresh(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordOAuthRefresh("qwen", "success")
	collector.RecordOAuthRefresh("iflow", "failed")

	count := testutil.CollectAndCount(collector.oauthRefreshTotal)
	assert.Greater(t, count, 0)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("POST", "/v1/chat/completions", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordPipelineExecution("glm-primary", "success", 200*time.Millisecond)
			collector.RecordProviderRequest("glm", "glm-4.6", "success", 500*time.Millisecond, 100, 50)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	pipelineCount := testutil.CollectAndCount(collector.pipelineExecutionsTotal)
	assert.Greater(t, pipelineCount, 0)

	providerCount := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, providerCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()
	collector := NewCollector(nextTestNamespace(), logger)

	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	collector.RecordHTTPRequest("GET", "/healthz", 200, 1*time.Millisecond, 0, 0)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
