package codec

import (
	"encoding/json"
	"strings"

	"github.com/routecodex/routecodex/internal/toolenvelope"
	"github.com/routecodex/routecodex/types"
)

// ResponsesRequestToChat converts an inbound OpenAI Responses request into
// the OpenAI Chat shape, per spec.md §4.3.2. toolSchemas maps tool name to
// its declared JSON Schema, used for argument-type coercion; it may be nil
// if no tool definitions are known yet.
func ResponsesRequestToChat(req ResponsesRequest, toolSchemas map[string]*types.JSONSchema) (ChatRequest, error) {
	out := ChatRequest{Model: req.Model, Stream: req.Stream}
	available := availableToolSchemas(req.Tools)

	if strings.TrimSpace(req.Instructions) != "" {
		out.Messages = append(out.Messages, ChatMessage{Role: "system", Content: req.Instructions})
	}

	for _, item := range req.Input {
		msgs, err := responsesInputItemToChat(item, toolSchemas, available)
		if err != nil {
			return ChatRequest{}, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, ChatTool{
			Type: "function",
			Function: ChatToolFunction{
				Name:        SanitizeToolName(t.Name),
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 && out.ToolChoice == nil {
		out.ToolChoice = "auto"
	}

	return out, nil
}

// availableToolSchemas converts a Responses request's tool declarations
// into the shape toolenvelope.RepairHint needs to enumerate them and
// synthesize an example invocation.
func availableToolSchemas(tools []ResponsesTool) []types.ToolSchema {
	out := make([]types.ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, types.ToolSchema{
			Name:        SanitizeToolName(t.Name),
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return out
}

func responsesInputItemToChat(item ResponsesInputItem, toolSchemas map[string]*types.JSONSchema, available []types.ToolSchema) ([]ChatMessage, error) {
	switch item.Type {
	case "message":
		var parts []string
		for _, c := range item.Content {
			switch c.Type {
			case "input_text", "output_text", "text":
				parts = append(parts, c.Text)
			}
		}
		return []ChatMessage{{Role: item.Role, Content: strings.Join(parts, "")}}, nil

	case "function_call", "tool_call":
		args := coerceArguments(item.Name, item.Arguments, toolSchemas)
		return []ChatMessage{{
			Role: "assistant",
			ToolCalls: []ChatToolCall{{
				ID:   item.CallID,
				Type: "function",
				Function: ChatFunctionCall{
					Name:      SanitizeToolName(item.Name),
					Arguments: args,
				},
			}},
		}}, nil

	case "function_call_output", "tool_result", "tool_message":
		envelope := toolenvelope.Wrap(item.CallID, item.Name, item.Output, "")
		if _, hint := detectSelfRepair(item.Output, item.Name, available); hint != "" {
			envelope.Error = hint
		}
		return []ChatMessage{{
			Role:       "tool",
			ToolCallID: item.CallID,
			Content:    envelope.Marshal(),
		}}, nil

	default:
		return nil, nil
	}
}

// detectSelfRepair inspects a tool output for one of the known failure
// classes and, if found, renders the self-repair hint that the caller stores
// in the outgoing tool envelope's error field (the raw output stays in the
// envelope's result), per spec.md §4.3.2's self-repair paragraph. available is the tool list declared on the originating
// request, so the hint can enumerate every tool still on offer and
// illustrate a corrected call.
func detectSelfRepair(output, toolName string, available []types.ToolSchema) (toolenvelope.FailureClass, string) {
	trimmed := strings.TrimSpace(output)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "unknown tool") || strings.Contains(lower, "tool not found"):
		return toolenvelope.FailureUnknownTool, toolenvelope.RepairHint(toolenvelope.FailureUnknownTool, toolName, trimmed, available)
	case strings.Contains(lower, "view_image") && strings.Contains(lower, "not an image"):
		return toolenvelope.FailureExecutionError, toolenvelope.RepairHint(toolenvelope.FailureExecutionError, "view_image", trimmed, available)
	case strings.Contains(lower, "apply_patch") && strings.Contains(lower, "verification failed"):
		return toolenvelope.FailureExecutionError, toolenvelope.RepairHint(toolenvelope.FailureExecutionError, "apply_patch", trimmed, available)
	case strings.Contains(lower, "invalid json") || strings.Contains(lower, "could not parse"):
		return toolenvelope.FailureArgumentParse, toolenvelope.RepairHint(toolenvelope.FailureArgumentParse, toolName, trimmed, available)
	default:
		return "", ""
	}
}

// coerceArguments applies the schema-aware type coercion spec.md §4.3.2
// requires: string arguments stay as-is; arguments destined for an
// array-of-string field (canonically shell.command) are tokenized; an
// object destined field is parsed if the model stringified it; and a
// command that needs shell interpretation is wrapped in ["bash","-lc",…].
func coerceArguments(toolName, rawArgs string, schemas map[string]*types.JSONSchema) string {
	if rawArgs == "" {
		return "{}"
	}
	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return rawArgs
	}

	schema := schemas[toolName]
	for name, prop := range schemaProperties(schema) {
		raw, ok := args[name]
		if !ok {
			continue
		}
		args[name] = coerceField(name, raw, prop)
	}

	out, err := json.Marshal(args)
	if err != nil {
		return rawArgs
	}
	return string(out)
}

func schemaProperties(schema *types.JSONSchema) map[string]*types.JSONSchema {
	if schema == nil {
		return nil
	}
	return schema.Properties
}

func coerceField(name string, raw json.RawMessage, prop *types.JSONSchema) json.RawMessage {
	if prop == nil {
		return raw
	}
	switch prop.Type {
	case types.SchemaTypeArray:
		return coerceToStringArray(name, raw)
	case types.SchemaTypeObject:
		return coerceToObject(raw)
	default:
		return raw
	}
}

// coerceToStringArray turns a stringified shell command into a JSON array of
// words, wrapping it in ["bash","-lc",…] when it needs shell interpretation.
func coerceToStringArray(fieldName string, raw json.RawMessage) json.RawMessage {
	var asArray []string
	if err := json.Unmarshal(raw, &asArray); err == nil {
		return raw // already an array
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return raw
	}

	var words []string
	if fieldName == "command" && containsShellMetacharacters(asString) {
		words = wrapAsShellCommand([]string{asString})
	} else {
		words = tokenizeShellWords(asString)
		words = wrapAsShellCommand(words)
	}

	encoded, err := json.Marshal(words)
	if err != nil {
		return raw
	}
	return encoded
}

func coerceToObject(raw json.RawMessage) json.RawMessage {
	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err == nil {
		return raw // already an object
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return raw
	}
	var reparsed map[string]any
	if err := json.Unmarshal([]byte(asString), &reparsed); err != nil {
		return raw
	}
	encoded, err := json.Marshal(reparsed)
	if err != nil {
		return raw
	}
	return encoded
}

// ChatResponseToResponses converts an upstream Chat completion into the
// OpenAI Responses output shape, per spec.md §4.3.2.
func ChatResponseToResponses(resp ChatResponse, reasoning string) (ResponsesResponse, error) {
	out := ResponsesResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: ResponsesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	choice := resp.Choices[0]

	if strings.TrimSpace(reasoning) != "" {
		out.Output = append(out.Output, ResponsesOutputItem{
			Type:    "reasoning",
			Content: []ResponsesContentPart{{Type: "text", Text: reasoning}},
		})
	}

	if choice.Message.Content != "" {
		out.Output = append(out.Output, ResponsesOutputItem{
			Type: "message",
			Role: "assistant",
			Content: []ResponsesContentPart{{
				Type: "output_text",
				Text: choice.Message.Content,
			}},
		})
	}

	for _, tc := range choice.Message.ToolCalls {
		out.Output = append(out.Output, ResponsesOutputItem{
			Type:      "function_call",
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return out, nil
}
