// Package dto holds the protocol-tagged request/response envelopes that
// flow through the four pipeline stages (LLMSwitch, Workflow, Compatibility,
// Provider). They are deliberately generic (Data is the raw ingress/egress
// payload) — the LLMSwitch stage is the only place that turns Data into the
// normalized types.Message slice the rest of the pipeline works with.
package dto

import (
	"context"
	"time"

	"github.com/routecodex/routecodex/internal/ctxkeys"
	"github.com/routecodex/routecodex/types"
)

// Protocol identifies one of the three entry protocols routecodex fronts.
type Protocol string

const (
	ProtocolOpenAIChat      Protocol = "openai-chat"
	ProtocolOpenAIResponses Protocol = "openai-responses"
	ProtocolAnthropic       Protocol = "anthropic-messages"
)

// RouteTarget names the exact pipeline a request was assigned to.
type RouteTarget struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
	KeyID      string `json:"keyId"`
}

// PipelineID renders the canonical "{providerId}_{keyId}.{modelId}" id.
func (t RouteTarget) PipelineID() string {
	return t.ProviderID + "_" + t.KeyID + "." + t.ModelID
}

// RouteMetadata carries the hints a client can attach to steer category
// selection (§4.6): explicit category override, session stickiness, and the
// free-form hint map workflow/compatibility stages may consult.
type RouteMetadata struct {
	Category   string            `json:"category,omitempty"`
	SessionID  string            `json:"sessionId,omitempty"`
	Streaming  bool              `json:"streaming"`
	Hints      map[string]string `json:"hints,omitempty"`
}

// DebugInfo accumulates the per-stage trace spec.md §4.5 calls for: one
// entry is appended every time a module's processIncoming/processOutgoing
// runs, in traversal order.
type DebugInfo struct {
	Enabled bool         `json:"-"`
	Stages  []StageTrace `json:"stages,omitempty"`
}

type StageTrace struct {
	Module    string        `json:"module"`
	Direction string        `json:"direction"` // "incoming" | "outgoing"
	Duration  time.Duration `json:"durationMs"`
	Error     string        `json:"error,omitempty"`
}

func (d *DebugInfo) Record(module, direction string, dur time.Duration, err error) {
	if d == nil || !d.Enabled {
		return
	}
	t := StageTrace{Module: module, Direction: direction, Duration: dur}
	if err != nil {
		t.Error = err.Error()
	}
	d.Stages = append(d.Stages, t)
}

// Request is the pipeline-wide request envelope. Data starts as the raw
// decoded JSON body of whatever protocol the client spoke (set by the HTTP
// shell) and is replaced with a normalized payload once the LLMSwitch stage
// has run.
type Request struct {
	ID       string        `json:"id"`
	Protocol Protocol      `json:"protocol"`
	Data     any           `json:"data"`
	Messages []types.Message `json:"-"`
	Tools    []types.ToolSchema `json:"-"`
	Model    string        `json:"model"`
	Route    RouteMetadata `json:"route"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Debug    *DebugInfo    `json:"-"`
}

// Response is the pipeline-wide response envelope, mirrored back through the
// stages in reverse order on the way out.
type Response struct {
	ID       string         `json:"id"`
	Protocol Protocol       `json:"protocol"`
	Data     any            `json:"data"`
	Message  types.Message  `json:"-"`
	Stream   *SSEStream     `json:"-"`
	Usage    Usage          `json:"usage"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
	TotalTokens      int `json:"totalTokens,omitempty"`
}

// SSEStream is handed from the Provider module up through Compatibility,
// Workflow, and LLMSwitch as a channel of already-framed protocol-specific
// events; each stage may rewrite events in place before forwarding.
type SSEStream struct {
	Events <-chan StreamEvent
	Cancel context.CancelFunc
}

// StreamEvent is one SSE frame, either a parsed JSON chunk (Chunk) ready for
// re-framing by the final protocol, or a terminal error/completion signal.
type StreamEvent struct {
	Chunk    any
	Err      error
	Done     bool
}

// RequestContext bundles the standard context.Context with the Request it
// governs, since Go has no implicit per-request context slot.
type RequestContext struct {
	Ctx context.Context
	Req *Request
}

// NewRequestContext stamps req's id (and, once known, its pipeline id) onto
// ctx via internal/ctxkeys, so code downstream of the HTTP shell — retry
// logging, OAuth refresh logging, the pipeline runtime itself — can
// correlate its log lines against the request without threading the DTO
// through every call. pipelineID may be empty when called before route
// selection; call WithPipelineID to add it once the Route Selector has run.
func NewRequestContext(ctx context.Context, req *Request, pipelineID string) RequestContext {
	ctx = ctxkeys.WithTraceID(ctx, req.ID)
	if pipelineID != "" {
		ctx = ctxkeys.WithPipelineID(ctx, pipelineID)
	}
	return RequestContext{Ctx: ctx, Req: req}
}
