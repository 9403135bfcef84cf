// Package workflow implements the second pipeline stage: bridging a
// mismatch between what the client asked for (streaming or buffered) and
// what the upstream provider is told to produce, per spec.md §4.5's
// streamingToNonStreaming / nonStreamingToStreaming policy. Grounded on
// internal/codec's SSE accumulation and synthesis helpers; this package
// owns only the decision of which direction to bridge and the channel
// plumbing, not the byte-level SSE framing (that lives in internal/sse).
package workflow

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/types"
)

// Metadata keys threaded between ProcessIncoming and ProcessOutgoing via
// req.Metadata / resp.Metadata, since ProcessOutgoing never sees the
// original request.
const (
	metaClientStream   = "rc_client_stream"
	metaUpstreamStream = "rc_upstream_stream"
)

// Mode names the upstream streaming policies §4.5 allows a pipeline to
// declare independent of what the client asked for.
type Mode string

const (
	// ModeMirror asks upstream to stream iff the client asked to stream.
	ModeMirror Mode = "mirror"
	// ModeAlwaysStream always asks upstream to stream, buffering the result
	// for a non-streaming client.
	ModeAlwaysStream Mode = "alwaysStream"
	// ModeAlwaysBuffer always asks upstream for a single JSON body,
	// synthesizing SSE for a streaming client.
	ModeAlwaysBuffer Mode = "alwaysBuffer"
)

type module struct {
	mode   Mode
	logger *zap.Logger
}

// New builds the streaming-control Workflow module. moduleConfig["mode"]
// selects one of ModeMirror (default), ModeAlwaysStream, ModeAlwaysBuffer;
// without a "mode", moduleConfig["streamingToNonStreaming"] == true selects
// ModeAlwaysBuffer.
func New(moduleConfig map[string]any, deps pipeline.Dependencies) (pipeline.Module, error) {
	mode := ModeMirror
	if v, ok := moduleConfig["streamingToNonStreaming"].(bool); ok && v {
		mode = ModeAlwaysBuffer
	}
	if v, ok := moduleConfig["mode"].(string); ok && v != "" {
		mode = Mode(v)
	}
	return &module{mode: mode, logger: deps.Logger}, nil
}

// Register adds the streaming-control Workflow under its spec-facing type
// name.
func Register(reg *pipeline.Registry) {
	reg.RegisterWorkflow("streaming-control", New)
}

func (m *module) Name() string { return "streaming-control" }

func (m *module) Initialize(context.Context) error { return nil }
func (m *module) Cleanup(context.Context) error    { return nil }

func (m *module) Capabilities() pipeline.Capabilities {
	return pipeline.Capabilities{Streaming: true, NativeToolCalls: true}
}

// ProcessIncoming decides whether the upstream call should stream and
// records both that decision and the client's original preference in
// req.Metadata, for the Provider adapter (reads metaUpstreamStream to pick
// its Execute(stream bool) argument) and for this module's own
// ProcessOutgoing (reads both keys back off resp.Metadata).
func (m *module) ProcessIncoming(ctx context.Context, req *dto.Request) (*dto.Request, error) {
	clientWantsStream := req.Route.Streaming

	upstreamStream := clientWantsStream
	switch m.mode {
	case ModeAlwaysStream:
		upstreamStream = true
	case ModeAlwaysBuffer:
		upstreamStream = false
	}

	if req.Metadata == nil {
		req.Metadata = make(map[string]any)
	}
	req.Metadata[metaClientStream] = clientWantsStream
	req.Metadata[metaUpstreamStream] = upstreamStream

	if chat, ok := req.Data.(codec.ChatRequest); ok {
		chat.Stream = upstreamStream
		req.Data = chat
	}
	return req, nil
}

// ProcessOutgoing bridges resp to whatever the client actually asked for:
// draining and accumulating a stream the client wants buffered, or
// synthesizing a stream from a buffered response the client wants to read
// as SSE.
func (m *module) ProcessOutgoing(ctx context.Context, resp *dto.Response) (*dto.Response, error) {
	clientWantsStream, _ := resp.Metadata[metaClientStream].(bool)

	switch {
	case !clientWantsStream && resp.Stream != nil:
		return m.accumulate(resp)
	case clientWantsStream && resp.Stream == nil:
		return m.synthesize(resp)
	default:
		return resp, nil
	}
}

// accumulate drains resp.Stream into a single buffered ChatResponse, for a
// client that asked for a non-streaming reply against a pipeline whose
// Mode forced the upstream call to stream.
func (m *module) accumulate(resp *dto.Response) (*dto.Response, error) {
	acc := codec.NewChatAccumulator()
	for evt := range resp.Stream.Events {
		if evt.Err != nil {
			return nil, types.NewError(types.ErrUpstreamError, "upstream stream failed").WithCause(evt.Err).WithStage("workflow")
		}
		if evt.Done {
			break
		}
		if chunk, ok := evt.Chunk.(codec.ChatResponse); ok {
			raw, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			acc.Feed(codec.SSEEvent{Data: string(raw)})
		}
	}
	if resp.Stream.Cancel != nil {
		resp.Stream.Cancel()
	}
	result := acc.Result()
	resp.Data = result
	resp.Usage = dto.Usage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
	}
	resp.Stream = nil
	return resp, nil
}

// synthesize turns a buffered ChatResponse into an SSE-shaped dto.Response,
// for a client that asked to stream against a pipeline whose Mode forced
// the upstream call to buffer.
func (m *module) synthesize(resp *dto.Response) (*dto.Response, error) {
	chat, ok := resp.Data.(codec.ChatResponse)
	if !ok {
		return resp, nil
	}

	events := codec.ChatResponseToSSE(chat)
	ch := make(chan dto.StreamEvent, len(events))
	for _, evt := range events {
		if evt.Data == "[DONE]" {
			ch <- dto.StreamEvent{Done: true}
			continue
		}
		var chunk codec.ChatResponse
		if err := json.Unmarshal([]byte(evt.Data), &chunk); err != nil {
			continue
		}
		ch <- dto.StreamEvent{Chunk: chunk}
	}
	close(ch)

	resp.Stream = &dto.SSEStream{Events: ch}
	return resp, nil
}
