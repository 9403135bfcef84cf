package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenario_SSEAccumulation mirrors spec scenario 4: three content
// deltas accumulate into one string, then [DONE] terminates the stream.
func TestScenario_SSEAccumulation(t *testing.T) {
	stream := `data: {"id":"r1","model":"glm-4.6","choices":[{"index":0,"delta":{"content":"Hel"}}]}

data: {"id":"r1","model":"glm-4.6","choices":[{"index":0,"delta":{"content":"lo,"}}]}

data: {"id":"r1","model":"glm-4.6","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":"stop"}]}

data: [DONE]

`
	acc := NewChatAccumulator()
	require.NoError(t, ParseSSE(strings.NewReader(stream), acc.Feed))

	assert.True(t, acc.Done())
	assert.Empty(t, acc.ParseErrors())

	result := acc.Result()
	assert.Equal(t, "Hello, world", result.Choices[0].Message.Content)
	assert.Equal(t, "stop", result.Choices[0].FinishReason)
}

func TestChatAccumulator_MergesToolCallsByIndex(t *testing.T) {
	stream := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"id":"c1","function":{"name":"shell","arguments":"{\"cmd\":"}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"function":{"arguments":"\"ls\"}"}}]}}]}

data: [DONE]

`
	acc := NewChatAccumulator()
	require.NoError(t, ParseSSE(strings.NewReader(stream), acc.Feed))

	result := acc.Result()
	require.Len(t, result.Choices[0].Message.ToolCalls, 1)
	tc := result.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "c1", tc.ID)
	assert.Equal(t, "shell", tc.Function.Name)
	assert.Equal(t, `{"cmd":"ls"}`, tc.Function.Arguments)
}

func TestChatAccumulator_ParseErrorSkipsAndRecords(t *testing.T) {
	stream := `data: not json at all

data: {"choices":[{"index":0,"delta":{"content":"ok"}}]}

data: [DONE]

`
	acc := NewChatAccumulator()
	require.NoError(t, ParseSSE(strings.NewReader(stream), acc.Feed))
	require.Len(t, acc.ParseErrors(), 1)
	assert.Equal(t, "ok", acc.Result().Choices[0].Message.Content)
}

func TestChatResponseToSSE_RoundTripsThroughAccumulator(t *testing.T) {
	original := ChatResponse{
		ID:    "r1",
		Model: "glm-4.6",
		Choices: []ChatChoice{{
			Message:      ChatMessage{Role: "assistant", Content: "hello"},
			FinishReason: "stop",
		}},
	}
	events := ChatResponseToSSE(original)

	acc := NewChatAccumulator()
	for _, e := range events {
		acc.Feed(e)
	}
	require.True(t, acc.Done())
	result := acc.Result()
	assert.Equal(t, "hello", result.Choices[0].Message.Content)
	assert.Equal(t, "stop", result.Choices[0].FinishReason)
}
