package codec

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestProperty_NormalizeToolStageIsIdempotent checks spec.md §8's
// tool-stage idempotence law: applying NormalizeToolStage to its own
// output changes nothing further, for any mix of (possibly duplicate) tool
// definitions, assistant tool calls, ceiling and guidance settings.
func TestProperty_NormalizeToolStageIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numTools := rapid.IntRange(0, 5).Draw(rt, "numTools")
		var tools []ChatTool
		for i := 0; i < numTools; i++ {
			name := rapid.StringMatching(`[a-z][a-z0-9_]{0,15}`).Draw(rt, fmt.Sprintf("toolName%d", i))
			tools = append(tools, ChatTool{Type: "function", Function: ChatToolFunction{Name: name}})
		}

		numMsgs := rapid.IntRange(0, 3).Draw(rt, "numMsgs")
		var msgs []ChatMessage
		for i := 0; i < numMsgs; i++ {
			argVal := rapid.StringMatching(`[a-z]{1,10}`).Draw(rt, fmt.Sprintf("argVal%d", i))
			msgs = append(msgs, ChatMessage{
				Role: "assistant",
				ToolCalls: []ChatToolCall{{
					ID:       fmt.Sprintf("c%d", i),
					Type:     "function",
					Function: ChatFunctionCall{Name: "shell", Arguments: `{"v":"` + argVal + `"}`},
				}},
			})
		}

		ceiling := rapid.IntRange(1, 10).Draw(rt, "ceiling")
		guidance := rapid.Bool().Draw(rt, "guidance")

		opts := ToolStageOptions{Ceiling: ceiling, GuidanceEnabled: guidance, GuidanceText: "use tools wisely"}
		req := ChatRequest{Model: "m", Tools: tools, Messages: msgs}

		once := NormalizeToolStage(req, opts)
		twice := NormalizeToolStage(once, opts)

		onceJSON, err := json.Marshal(once)
		require.NoError(t, err)
		twiceJSON, err := json.Marshal(twice)
		require.NoError(t, err)
		assert.JSONEq(t, string(onceJSON), string(twiceJSON))
	})
}
