package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/toolenvelope"
	"github.com/routecodex/routecodex/types"
)

// TestScenario_ResponsesClientChatUpstream mirrors spec scenario 2:
// instructions hoist to a system message, and a function_call_output
// becomes a tool message wrapped in the rcc.tool.v1 envelope.
func TestScenario_ResponsesClientChatUpstream(t *testing.T) {
	req := ResponsesRequest{
		Model:        "glm-4.6",
		Instructions: "be terse",
		Input: []ResponsesInputItem{
			{Type: "function_call_output", CallID: "c1", Output: `{"exit_code":0,"stdout":"ok"}`},
		},
	}

	chatReq, err := ResponsesRequestToChat(req, nil)
	require.NoError(t, err)
	require.Len(t, chatReq.Messages, 2)

	assert.Equal(t, "system", chatReq.Messages[0].Role)
	assert.Equal(t, "be terse", chatReq.Messages[0].Content)

	toolMsg := chatReq.Messages[1]
	assert.Equal(t, "tool", toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)

	env, ok := toolenvelope.Unmarshal(toolMsg.Content)
	require.True(t, ok)
	assert.True(t, env.Result.Success)
	require.NotNil(t, env.Result.ExitCode)
	assert.Equal(t, 0, *env.Result.ExitCode)
	assert.Equal(t, "ok", env.Result.Stdout)
}

// TestScenario_ShellArgumentCoercion mirrors spec scenario 3: a stringified
// shell command containing a pipe is tokenized and wrapped for shell
// execution because of the metacharacter.
func TestScenario_ShellArgumentCoercion(t *testing.T) {
	schemas := map[string]*types.JSONSchema{
		"shell": {
			Type: types.SchemaTypeObject,
			Properties: map[string]*types.JSONSchema{
				"command": {Type: types.SchemaTypeArray},
			},
		},
	}
	req := ResponsesRequest{
		Model: "glm-4.6",
		Input: []ResponsesInputItem{
			{Type: "function_call", CallID: "c1", Name: "shell", Arguments: `{"command":"find . | head -3"}`},
		},
	}

	chatReq, err := ResponsesRequestToChat(req, schemas)
	require.NoError(t, err)
	require.Len(t, chatReq.Messages, 1)
	require.Len(t, chatReq.Messages[0].ToolCalls, 1)

	var decoded struct {
		Command []string `json:"command"`
	}
	require.NoError(t, json.Unmarshal([]byte(chatReq.Messages[0].ToolCalls[0].Function.Arguments), &decoded))
	assert.Equal(t, []string{"bash", "-lc", "find . | head -3"}, decoded.Command)
}

func TestResponsesRequestToChat_MessageItem(t *testing.T) {
	req := ResponsesRequest{
		Model: "glm-4.6",
		Input: []ResponsesInputItem{
			{Type: "message", Role: "user", Content: []ResponsesContentPart{{Type: "input_text", Text: "hi"}}},
		},
	}
	chatReq, err := ResponsesRequestToChat(req, nil)
	require.NoError(t, err)
	require.Len(t, chatReq.Messages, 1)
	assert.Equal(t, "user", chatReq.Messages[0].Role)
	assert.Equal(t, "hi", chatReq.Messages[0].Content)
}

func TestChatResponseToResponses_ToolCallsAndReasoning(t *testing.T) {
	resp := ChatResponse{
		ID:    "r1",
		Model: "glm-4.6",
		Choices: []ChatChoice{{
			Message: ChatMessage{
				Content: "done",
				ToolCalls: []ChatToolCall{{
					ID:       "c1",
					Function: ChatFunctionCall{Name: "shell", Arguments: `{"command":["ls"]}`},
				}},
			},
		}},
	}
	out, err := ChatResponseToResponses(resp, "thinking about it")
	require.NoError(t, err)
	require.Len(t, out.Output, 3)
	assert.Equal(t, "reasoning", out.Output[0].Type)
	assert.Equal(t, "message", out.Output[1].Type)
	assert.Equal(t, "function_call", out.Output[2].Type)
	assert.Equal(t, "shell", out.Output[2].Name)
}

// TestResponsesRequestToChat_SelfRepairHintEnumeratesTools mirrors spec.md
// §4.3.2's self-repair requirement: the hint wrapped into the tool message
// names every tool still on offer and illustrates a corrected call.
func TestResponsesRequestToChat_SelfRepairHintEnumeratesTools(t *testing.T) {
	req := ResponsesRequest{
		Model: "glm-4.6",
		Tools: []ResponsesTool{
			{Type: "function", Name: "shell", Parameters: json.RawMessage(`{"type":"object","properties":{"command":{"type":"array"}},"required":["command"]}`)},
			{Type: "function", Name: "read_file", Parameters: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)},
		},
		Input: []ResponsesInputItem{
			{Type: "function_call_output", CallID: "c1", Name: "unknown_tool", Output: "Error: unknown tool requested"},
		},
	}

	chatReq, err := ResponsesRequestToChat(req, nil)
	require.NoError(t, err)
	require.Len(t, chatReq.Messages, 1)

	env, ok := toolenvelope.Unmarshal(chatReq.Messages[0].Content)
	require.True(t, ok)
	assert.Contains(t, env.Error, "shell, read_file")
	assert.Contains(t, env.Error, `"name": "shell"`)
	assert.Contains(t, env.Error, `"command"`)
}

func TestCoerceArguments_ObjectStringified(t *testing.T) {
	schemas := map[string]*types.JSONSchema{
		"configure": {
			Type: types.SchemaTypeObject,
			Properties: map[string]*types.JSONSchema{
				"options": {Type: types.SchemaTypeObject},
			},
		},
	}
	raw := `{"options":"{\"verbose\":true}"}`
	out := coerceArguments("configure", raw, schemas)

	var decoded struct {
		Options map[string]any `json:"options"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded.Options["verbose"])
}
