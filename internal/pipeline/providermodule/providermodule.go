// Package providermodule adapts internal/provider.Module (the outbound
// HTTP call, with retry/breaker/rate-limit already composed) to the
// pipeline.ProviderModule interface the BasePipeline runtime drives.
// Grounded on the same factory-dispatch pattern as internal/pipeline/
// llmswitch and workflow; the only new work here is payload marshaling
// and wiring a streaming body through internal/sse.Forward.
package providermodule

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/provider"
	"github.com/routecodex/routecodex/internal/sse"
	"github.com/routecodex/routecodex/types"
)

// metaUpstreamStream must match workflow.metaUpstreamStream's literal
// value; the two packages share the convention through req.Metadata
// rather than a direct import, keeping the Provider stage usable without
// a streaming-control Workflow in front of it (falls back to the
// request's own protocol-level Stream flag when absent).
const metaUpstreamStream = "rc_upstream_stream"

// defaultEndpointPath is the upstream path used when a pipeline's config
// doesn't override it: every provider module sends Chat-shaped JSON
// regardless of what the client spoke, since LLMSwitch already normalized
// it.
const defaultEndpointPath = "/v1/chat/completions"

type module struct {
	inner  *provider.Module
	logger *zap.Logger
}

// New builds the Provider stage for one pipeline. Only "endpointPath" is
// read from moduleConfig (default /v1/chat/completions); no rate limit is
// read from it. deps supplies the credential the assembler already
// resolved.
func New(moduleConfig map[string]any, deps pipeline.Dependencies) (pipeline.ProviderModule, error) {
	cfg := provider.DefaultConfig()
	cfg.ProviderID = deps.ProviderID
	cfg.BaseURL = deps.BaseURL
	cfg.EndpointPath = stringConfig(moduleConfig, "endpointPath", defaultEndpointPath)

	inner := provider.New(cfg, deps.Credential, deps.Logger)
	return &module{inner: inner, logger: deps.Logger}, nil
}

// canonicalProviderTypes are every provider.type value
// config.canonicalizeProviderType can produce (§4.1 step 2). Vendor
// dialects all resolve to the same generic HTTP execution here — the
// vendor-specific wire quirks live entirely in the Compatibility stage,
// never in Provider — so one constructor is registered under each of
// their canonical type names plus the generic "http-provider" alias a
// config may name explicitly.
var canonicalProviderTypes = []string{
	"http-provider",
	"glm-http-provider",
	"qwen-provider",
	"openai-provider",
	"lmstudio-http-provider",
	"iflow-provider",
}

// Register adds the generic HTTP provider module under every canonical
// provider.type name the Config Compatibility Layer can emit.
func Register(reg *pipeline.Registry) {
	for _, typ := range canonicalProviderTypes {
		reg.RegisterProvider(typ, New)
	}
}

func stringConfig(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (m *module) Name() string { return "http-provider" }

// Probe implements route.Prober by delegating to the underlying HTTP
// module's active reachability check, structurally satisfying
// internal/route.Prober without either package importing the other.
func (m *module) Probe(ctx context.Context) error {
	return m.inner.HealthCheck(ctx)
}

// PassiveHealthy reports the underlying module's circuit-breaker state,
// structurally satisfying internal/route.PassiveHealth.
func (m *module) PassiveHealthy() bool {
	return m.inner.Healthy()
}

func (m *module) Initialize(context.Context) error { return nil }
func (m *module) Cleanup(context.Context) error    { return nil }

func (m *module) Capabilities() pipeline.Capabilities {
	return pipeline.Capabilities{Streaming: true, NativeToolCalls: true}
}

// Execute marshals req.Data to JSON, calls the upstream HTTP module, and
// translates the result back into a dto.Response: a buffered
// codec.ChatResponse in Data, or an open dto.SSEStream in Stream.
func (m *module) Execute(ctx context.Context, req *dto.Request) (*dto.Response, error) {
	payload, err := json.Marshal(req.Data)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal outbound payload").WithCause(err)
	}

	stream := req.Route.Streaming
	if v, ok := req.Metadata[metaUpstreamStream].(bool); ok {
		stream = v
	}

	result, err := m.inner.Execute(ctx, payload, stream)
	if err != nil {
		return nil, err
	}

	resp := &dto.Response{
		ID:       req.ID,
		Protocol: req.Protocol,
		Metadata: req.Metadata,
	}

	if result.Stream != nil {
		resp.Stream = sse.Forward(ctx, result.Stream, m.logger)
		return resp, nil
	}

	var chat codec.ChatResponse
	if err := json.Unmarshal(result.Body, &chat); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to parse upstream response body").WithCause(err).WithProvider(string(req.Protocol))
	}
	resp.Data = chat
	resp.Usage = dto.Usage{
		PromptTokens:     chat.Usage.PromptTokens,
		CompletionTokens: chat.Usage.CompletionTokens,
		TotalTokens:      chat.Usage.TotalTokens,
	}
	return resp, nil
}
