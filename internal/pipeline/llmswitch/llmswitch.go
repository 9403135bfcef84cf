// Package llmswitch implements the first pipeline stage: converting
// between the client-facing entry protocol and the internal OpenAI-Chat
// shape every Workflow/Compatibility/Provider stage operates on. Grounded
// on internal/codec's pure conversion functions; this package is the thin
// pipeline.Module adapter around them, analogous to how the teacher's
// llm/factory/factory.go dispatches a string type to a constructor.
package llmswitch

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/types"
)

// Kind names the three LLMSwitch types §4.4 step 1 resolves by input
// protocol.
type Kind string

const (
	KindAnthropicOpenAI Kind = "llmswitch-anthropic-openai"
	KindOpenAIOpenAI    Kind = "llmswitch-openai-openai"
	KindResponseChat    Kind = "llmswitch-response-chat"
)

// Register adds all three LLMSwitch kinds to a pipeline.Registry under
// their spec-facing type names, so config.ModuleConfig.Type values resolve
// straight to a constructor bound to that kind.
func Register(reg *pipeline.Registry) {
	reg.RegisterLLMSwitch(string(KindAnthropicOpenAI), newFor(KindAnthropicOpenAI))
	reg.RegisterLLMSwitch(string(KindOpenAIOpenAI), newFor(KindOpenAIOpenAI))
	reg.RegisterLLMSwitch(string(KindResponseChat), newFor(KindResponseChat))
}

type module struct {
	kind   Kind
	logger *zap.Logger
}

// newFor binds a pipeline.Factory to a fixed Kind, for registration under
// that kind's type name.
func newFor(kind Kind) pipeline.Factory {
	return func(_ map[string]any, deps pipeline.Dependencies) (pipeline.Module, error) {
		return &module{kind: kind, logger: deps.Logger}, nil
	}
}

func (m *module) Name() string { return string(m.kind) }

func (m *module) Initialize(context.Context) error { return nil }
func (m *module) Cleanup(context.Context) error    { return nil }

func (m *module) Capabilities() pipeline.Capabilities {
	return pipeline.Capabilities{Streaming: true, NativeToolCalls: true}
}

// ProcessIncoming normalizes req.Data (the client's native wire payload)
// into a codec.ChatRequest, regardless of which of the three protocols it
// started as. Every later stage (Workflow, Compatibility, Provider)
// operates exclusively on this normalized shape.
func (m *module) ProcessIncoming(ctx context.Context, req *dto.Request) (*dto.Request, error) {
	switch m.kind {
	case KindAnthropicOpenAI:
		anth, err := asAnthropicRequest(req.Data)
		if err != nil {
			return nil, conversionErr(err)
		}
		chat, err := codec.AnthropicRequestToChat(anth)
		if err != nil {
			return nil, conversionErr(err)
		}
		req.Data = chat
		req.Model = chat.Model

	case KindResponseChat:
		resp, err := asResponsesRequest(req.Data)
		if err != nil {
			return nil, conversionErr(err)
		}
		schemas := toolSchemas(resp.Tools)
		chat, err := codec.ResponsesRequestToChat(resp, schemas)
		if err != nil {
			return nil, conversionErr(err)
		}
		req.Data = chat
		req.Model = chat.Model
		if resp.PreviousResponseID != "" && req.Route.SessionID == "" {
			req.Route.SessionID = resp.PreviousResponseID
		}

	default: // KindOpenAIOpenAI
		chat, err := asChatRequest(req.Data)
		if err != nil {
			return nil, conversionErr(err)
		}
		req.Data = chat
		req.Model = chat.Model
	}
	return req, nil
}

// ProcessOutgoing converts the normalized codec.ChatResponse (or, for a
// streaming DTO, each chunk of it) back into resp.Protocol's native wire
// shape.
func (m *module) ProcessOutgoing(ctx context.Context, resp *dto.Response) (*dto.Response, error) {
	if resp.Stream != nil {
		resp.Stream = m.wrapStream(resp.Stream)
		return resp, nil
	}

	chat, err := asChatResponse(resp.Data)
	if err != nil {
		return nil, conversionErr(err)
	}

	switch m.kind {
	case KindAnthropicOpenAI:
		out, err := codec.ChatResponseToAnthropic(chat)
		if err != nil {
			return nil, conversionErr(err)
		}
		resp.Data = out
	case KindResponseChat:
		out, err := codec.ChatResponseToResponses(chat, "")
		if err != nil {
			return nil, conversionErr(err)
		}
		resp.Data = out
	default:
		resp.Data = chat
	}
	resp.Usage = dto.Usage{
		PromptTokens:     chat.Usage.PromptTokens,
		CompletionTokens: chat.Usage.CompletionTokens,
		TotalTokens:      chat.Usage.TotalTokens,
	}
	return resp, nil
}

// wrapStream re-frames each upstream Chat-protocol SSE chunk into
// resp.Protocol's native streaming event shape, per §4.5 step 4 ("For
// streaming DTOs, each module wraps the SSE reader with its transform").
// Chat passes its chunks through untouched; Anthropic and Responses get a
// simplified but internally consistent event shape (the Responses shape
// round-trips against codec.ResponsesAccumulator).
func (m *module) wrapStream(in *dto.SSEStream) *dto.SSEStream {
	if m.kind == KindOpenAIOpenAI {
		return in
	}

	out := make(chan dto.StreamEvent, 1)
	go func() {
		defer close(out)
		itemOpened := false
		for evt := range in.Events {
			if evt.Err != nil || evt.Done {
				if m.kind == KindResponseChat && itemOpened {
					out <- dto.StreamEvent{Chunk: map[string]any{"type": "response.completed"}}
				}
				if m.kind == KindAnthropicOpenAI {
					out <- dto.StreamEvent{Chunk: map[string]any{"type": "message_stop"}}
				}
				out <- evt
				return
			}
			chunk, ok := evt.Chunk.(codec.ChatResponse)
			if !ok {
				out <- evt
				continue
			}
			if m.kind == KindResponseChat && !itemOpened {
				out <- dto.StreamEvent{Chunk: map[string]any{
					"type": "response.output_item.added",
					"item": map[string]any{"type": "message", "role": "assistant"},
					"item_id": "item_0",
				}}
				itemOpened = true
			}
			out <- dto.StreamEvent{Chunk: m.translateChunk(chunk)}
		}
	}()
	return &dto.SSEStream{Events: out, Cancel: in.Cancel}
}

func (m *module) translateChunk(chunk codec.ChatResponse) any {
	if len(chunk.Choices) == 0 {
		return map[string]any{}
	}
	choice := chunk.Choices[0]
	delta := choice.Delta
	if delta == nil {
		delta = &codec.ChatMessage{}
	}

	switch m.kind {
	case KindAnthropicOpenAI:
		if delta.Content != "" {
			return map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "text_delta", "text": delta.Content},
			}
		}
		for _, tc := range delta.ToolCalls {
			return map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": tc.Function.Arguments},
			}
		}
		if choice.FinishReason != "" {
			return map[string]any{
				"type":  "message_delta",
				"delta": map[string]any{"stop_reason": mapAnthropicStop(choice.FinishReason)},
			}
		}
		return map[string]any{"type": "ping"}

	case KindResponseChat:
		return map[string]any{
			"type":    "response.output_item.delta",
			"item_id": "item_0",
			"delta":   delta.Content,
		}

	default:
		return chunk
	}
}

func mapAnthropicStop(finishReason string) string {
	switch finishReason {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func toolSchemas(tools []codec.ResponsesTool) map[string]*types.JSONSchema {
	if len(tools) == 0 {
		return nil
	}
	out := make(map[string]*types.JSONSchema, len(tools))
	for _, t := range tools {
		schema, err := types.FromJSON(t.Parameters)
		if err != nil || schema == nil {
			continue
		}
		out[t.Name] = schema
	}
	return out
}

func asAnthropicRequest(data any) (codec.AnthropicRequest, error) {
	if v, ok := data.(codec.AnthropicRequest); ok {
		return v, nil
	}
	return reencode[codec.AnthropicRequest](data)
}

func asResponsesRequest(data any) (codec.ResponsesRequest, error) {
	if v, ok := data.(codec.ResponsesRequest); ok {
		return v, nil
	}
	return reencode[codec.ResponsesRequest](data)
}

func asChatRequest(data any) (codec.ChatRequest, error) {
	if v, ok := data.(codec.ChatRequest); ok {
		return v, nil
	}
	return reencode[codec.ChatRequest](data)
}

func asChatResponse(data any) (codec.ChatResponse, error) {
	if v, ok := data.(codec.ChatResponse); ok {
		return v, nil
	}
	return reencode[codec.ChatResponse](data)
}

// reencode recovers a concrete wire type from data that arrived as a
// generic map (e.g. a stage upstream of this one decoded JSON without
// knowing the concrete type). It round-trips through encoding/json rather
// than reflection, keeping every codec struct's json tags as the single
// source of truth for the wire shape.
func reencode[T any](data any) (T, error) {
	var out T
	raw, err := json.Marshal(data)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func conversionErr(err error) error {
	return types.NewError(types.ErrConversionFailed, "protocol conversion failed").WithCause(err).WithStage("llmSwitch")
}
