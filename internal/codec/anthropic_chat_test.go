package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_AnthropicClientOpenAIChatUpstream mirrors the spec's
// concrete end-to-end scenario 1: an Anthropic client request with a
// shell tool converts to Chat and the Chat tool-call response converts
// back to Anthropic tool_use content.
func TestScenario_AnthropicClientOpenAIChatUpstream(t *testing.T) {
	req := AnthropicRequest{
		Model: "glm-4.6",
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContentBlock{{Type: "text", Text: "hi"}}},
		},
		Tools: []AnthropicTool{{
			Name:        "shell",
			InputSchema: json.RawMessage(`{"$schema":"http://json-schema.org/draft-07/schema#","type":"object","properties":{"command":{"type":"array","items":{"type":"string"}}},"required":["command"]}`),
		}},
	}

	chatReq, err := AnthropicRequestToChat(req)
	require.NoError(t, err)

	require.Len(t, chatReq.Messages, 1)
	assert.Equal(t, "user", chatReq.Messages[0].Role)
	assert.Equal(t, "hi", chatReq.Messages[0].Content)

	require.Len(t, chatReq.Tools, 1)
	assert.Equal(t, "function", chatReq.Tools[0].Type)
	assert.Equal(t, "shell", chatReq.Tools[0].Function.Name)
	assert.NotContains(t, string(chatReq.Tools[0].Function.Parameters), "$schema")
	assert.Equal(t, "auto", chatReq.ToolChoice)

	chatResp := ChatResponse{
		Choices: []ChatChoice{{
			Message: ChatMessage{
				ToolCalls: []ChatToolCall{{
					ID:       "c1",
					Function: ChatFunctionCall{Name: "shell", Arguments: `{"command":["ls"]}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}

	anthResp, err := ChatResponseToAnthropic(chatResp)
	require.NoError(t, err)
	require.Len(t, anthResp.Content, 1)
	block := anthResp.Content[0]
	assert.Equal(t, "tool_use", block.Type)
	assert.Equal(t, "c1", block.ID)
	assert.Equal(t, "shell", block.Name)
	assert.JSONEq(t, `{"command":["ls"]}`, string(block.Input))
	assert.Equal(t, "tool_use", anthResp.StopReason)
}

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "tool", SanitizeToolName(""))
	assert.Equal(t, "shell", SanitizeToolName("shell"))
	assert.Equal(t, "web_search", SanitizeToolName("web search"))
	assert.LessOrEqual(t, len(SanitizeToolName(string(make([]byte, 200)))), 64)
}

func TestAnthropicRequestToChat_SystemHoisting(t *testing.T) {
	req := AnthropicRequest{
		Model:  "glm-4.6",
		System: "be terse",
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContentBlock{{Type: "text", Text: "hi"}}},
		},
	}
	chatReq, err := AnthropicRequestToChat(req)
	require.NoError(t, err)
	require.Len(t, chatReq.Messages, 2)
	assert.Equal(t, "system", chatReq.Messages[0].Role)
	assert.Equal(t, "be terse", chatReq.Messages[0].Content)
}

func TestAnthropicRequestToChat_ToolResult(t *testing.T) {
	req := AnthropicRequest{
		Model: "glm-4.6",
		Messages: []AnthropicMessage{
			{Role: "user", Content: []AnthropicContentBlock{
				{Type: "tool_result", ToolUseID: "c1", Content: json.RawMessage(`"output text"`)},
			}},
		},
	}
	chatReq, err := AnthropicRequestToChat(req)
	require.NoError(t, err)
	require.Len(t, chatReq.Messages, 1)
	assert.Equal(t, "tool", chatReq.Messages[0].Role)
	assert.Equal(t, "c1", chatReq.Messages[0].ToolCallID)
	assert.Equal(t, "output text", chatReq.Messages[0].Content)
}

func TestMapFinishReasonToStopReason(t *testing.T) {
	assert.Equal(t, "tool_use", mapFinishReasonToStopReason("tool_calls", false))
	assert.Equal(t, "end_turn", mapFinishReasonToStopReason("stop", false))
	assert.Equal(t, "max_tokens", mapFinishReasonToStopReason("length", false))
	assert.Equal(t, "tool_use", mapFinishReasonToStopReason("", true))
	assert.Equal(t, "end_turn", mapFinishReasonToStopReason("", false))
}
