package codec

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/routecodex/routecodex/types"
)

var toolNamePattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolName enforces the [A-Za-z0-9_-]{1,64} tool-name contract every
// codec applies before a tool definition leaves RouteCodex.
func SanitizeToolName(name string) string {
	name = toolNamePattern.ReplaceAllString(name, "_")
	if name == "" {
		name = "tool"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// AnthropicRequestToChat converts an inbound Anthropic Messages request into
// the OpenAI Chat shape, per spec.md §4.3.1.
func AnthropicRequestToChat(req AnthropicRequest) (ChatRequest, error) {
	out := ChatRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}

	if strings.TrimSpace(req.System) != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		converted, err := anthropicMessageToChat(m)
		if err != nil {
			return ChatRequest{}, err
		}
		out.Messages = append(out.Messages, converted...)
	}

	for _, t := range req.Tools {
		schema, err := types.FromJSON(t.InputSchema)
		if err != nil {
			schema = types.NewObjectSchema()
		}
		stripped := schema.StripMeta()
		params, err := stripped.ToJSON()
		if err != nil {
			return ChatRequest{}, err
		}
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatToolFunction{
				Name:        SanitizeToolName(t.Name),
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	if len(out.Tools) > 0 && out.ToolChoice == nil {
		out.ToolChoice = "auto"
	}

	return out, nil
}

// anthropicMessageToChat converts a single Anthropic message, which may
// expand into more than one Chat message (an assistant turn with both text
// and tool_use blocks, or a user turn carrying tool_result blocks).
func anthropicMessageToChat(m AnthropicMessage) ([]ChatMessage, error) {
	var textParts []string
	var toolCalls []ChatToolCall
	var toolResults []ChatMessage

	for _, block := range m.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "tool_use":
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, ChatToolCall{
				ID:   block.ID,
				Type: "function",
				Function: ChatFunctionCall{
					Name:      SanitizeToolName(block.Name),
					Arguments: string(args),
				},
			})
		case "tool_result":
			toolResults = append(toolResults, ChatMessage{
				Role:       "tool",
				Content:    toolResultContent(block.Content),
				ToolCallID: block.ToolUseID,
			})
		}
	}

	var out []ChatMessage
	if len(textParts) > 0 || len(toolCalls) > 0 {
		out = append(out, ChatMessage{
			Role:      m.Role,
			Content:   strings.Join(textParts, ""),
			ToolCalls: toolCalls,
		})
	}
	out = append(out, toolResults...)
	return out, nil
}

// toolResultContent collapses an Anthropic tool_result's content (a plain
// string or an array of blocks) into a single string for the Chat tool
// message, matching the request-side text-collapsing rule.
func toolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "")
	}
	return string(raw)
}

// ChatResponseToAnthropic converts an upstream Chat completion into the
// Anthropic Messages response shape, per spec.md §4.3.1.
func ChatResponseToAnthropic(resp ChatResponse) (AnthropicResponse, error) {
	out := AnthropicResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Role:  "assistant",
		Type:  "message",
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	choice := resp.Choices[0]

	if choice.Message.Content != "" {
		out.Content = append(out.Content, AnthropicContentBlock{Type: "text", Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out.Content = append(out.Content, AnthropicContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	out.StopReason = mapFinishReasonToStopReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0)
	return out, nil
}

func mapFinishReasonToStopReason(finishReason string, hasToolCalls bool) string {
	switch finishReason {
	case "tool_calls":
		return "tool_use"
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "":
		if hasToolCalls {
			return "tool_use"
		}
		return "end_turn"
	default:
		return finishReason
	}
}
