package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolStage_DedupesByName(t *testing.T) {
	req := ChatRequest{
		Tools: []ChatTool{
			{Function: ChatToolFunction{Name: "shell"}},
			{Function: ChatToolFunction{Name: "shell"}},
			{Function: ChatToolFunction{Name: "search"}},
		},
	}
	out := NormalizeToolStage(req, ToolStageOptions{})
	require.Len(t, out.Tools, 2)
}

func TestNormalizeToolStage_EnforcesCeiling(t *testing.T) {
	var tools []ChatTool
	for i := 0; i < 40; i++ {
		tools = append(tools, ChatTool{Function: ChatToolFunction{Name: string(rune('a' + i))}})
	}
	out := NormalizeToolStage(ChatRequest{Tools: tools}, ToolStageOptions{})
	assert.Len(t, out.Tools, defaultToolCeiling)
}

func TestNormalizeToolStage_AllowListFilters(t *testing.T) {
	req := ChatRequest{
		Tools: []ChatTool{
			{Function: ChatToolFunction{Name: "shell"}},
			{Function: ChatToolFunction{Name: "search"}},
		},
	}
	out := NormalizeToolStage(req, ToolStageOptions{AllowList: []string{"shell"}})
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "shell", out.Tools[0].Function.Name)
}

func TestNormalizeToolStage_NoAllowListMeansUnfiltered(t *testing.T) {
	req := ChatRequest{
		Tools: []ChatTool{
			{Function: ChatToolFunction{Name: "shell"}},
			{Function: ChatToolFunction{Name: "search"}},
		},
	}
	out := NormalizeToolStage(req, ToolStageOptions{})
	assert.Len(t, out.Tools, 2)
}

func TestStringifyArguments(t *testing.T) {
	assert.Equal(t, "{}", stringifyArguments(""))
	assert.Equal(t, "{}", stringifyArguments("null"))
	assert.Equal(t, `{"a":1}`, stringifyArguments(`{"a":1}`))
	assert.Equal(t, `"already a string"`, stringifyArguments(`"already a string"`))
}

func TestNormalizeToolStage_GuidanceInjectedOnce(t *testing.T) {
	req := ChatRequest{
		Tools:    []ChatTool{{Function: ChatToolFunction{Name: "shell"}}},
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}
	opts := ToolStageOptions{GuidanceEnabled: true, GuidanceText: "use tools carefully"}

	out := NormalizeToolStage(req, opts)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "use tools carefully", out.Messages[0].Content)

	// Idempotence: applying the stage again must not inject a second copy.
	out2 := NormalizeToolStage(out, opts)
	assert.Len(t, out2.Messages, 2)
}
