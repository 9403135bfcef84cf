// Package toolenvelope implements the rcc.tool.v1 wrapper the
// Responses<->Chat codec uses to carry a tool result inside a Chat
// tool-role message, plus the truncation and self-repair-hint behavior
// spec.md requires around it.
package toolenvelope

import (
	"encoding/json"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// EnvelopeVersion is the schema tag every envelope carries, so a future
// version can be introduced without breaking older readers.
const EnvelopeVersion = "rcc.tool.v1"

// Executed records the command a tool actually ran, if any. Command is
// zeroed by writeScriptPattern sanitization before the envelope ships.
type Executed struct {
	Command string `json:"command,omitempty"`
}

// Result carries a tool's outcome. Stdout/Stderr/Output are each
// independently subject to the OutputLimit() truncation budget.
type Result struct {
	Success   bool   `json:"success"`
	ExitCode  *int   `json:"exitCode,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Output    string `json:"output,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Envelope is the JSON shape written into a tool-role message's Content
// when a Responses-protocol function_call_output is translated to Chat.
type Envelope struct {
	Version    string    `json:"version"`
	ToolCallID string    `json:"toolCallId"`
	Name       string    `json:"name"`
	Executed   *Executed `json:"executed,omitempty"`
	Result     Result    `json:"result"`
	Error      string    `json:"error,omitempty"`
}

const defaultOutputLimit = 32 * 1024

const truncatedSuffix = "...(truncated)"

var (
	limitOnce sync.Once
	limitVal  int
)

// OutputLimit resolves the tool-output truncation budget. RCC_TOOL_OUTPUT_LIMIT
// is canonical; ROUTECODEX_TOOL_OUTPUT_LIMIT is read as a deprecated
// fallback only when the canonical var is unset or not a positive integer
// (see DESIGN.md Open Question log). No warning is logged for the fallback.
func OutputLimit() int {
	limitOnce.Do(func() {
		limitVal = defaultOutputLimit
		if v := os.Getenv("RCC_TOOL_OUTPUT_LIMIT"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limitVal = n
				return
			}
		}
		if v := os.Getenv("ROUTECODEX_TOOL_OUTPUT_LIMIT"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limitVal = n
			}
		}
	})
	return limitVal
}

// writeScriptPattern matches command text that would let the model rewrite
// files through the tool channel rather than just run a read-only command —
// heredocs, apply_patch invocations, and raw patch bodies.
var writeScriptPattern = regexp.MustCompile(`(?s)<<['"]?\w+['"]?|apply_patch|\*\*\* Begin Patch`)

// rawToolOutput is the shape tool runners commonly emit; fields absent from
// a given tool's output are simply left at zero value.
type rawToolOutput struct {
	Success  *bool  `json:"success"`
	ExitCode *int   `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Output   string `json:"output"`
}

// Wrap builds an Envelope from a tool's raw output. output may be a JSON
// object carrying {success, exit_code, stdout, stderr, output} (any subset)
// or a plain string, in which case it becomes Result.Output verbatim.
// Wrap records no command; use WrapExecuted for that.
func Wrap(toolCallID, name, output, errMsg string) Envelope {
	return WrapExecuted(toolCallID, name, "", output, errMsg)
}

// WrapExecuted is Wrap plus the command the tool actually ran, recorded
// (and sanitized) as Executed.Command.
func WrapExecuted(toolCallID, name, command, output, errMsg string) Envelope {
	result := parseRawToolOutput(output)
	if errMsg != "" {
		result.Success = false
	}
	result = truncateResult(result)

	env := Envelope{
		Version:    EnvelopeVersion,
		ToolCallID: toolCallID,
		Name:       name,
		Result:     result,
		Error:      errMsg,
	}
	if command != "" {
		env.Executed = &Executed{Command: sanitizeCommand(command)}
	}
	return env
}

func parseRawToolOutput(output string) Result {
	var raw rawToolOutput
	if err := json.Unmarshal([]byte(output), &raw); err == nil && (raw.Stdout != "" || raw.Stderr != "" || raw.Output != "" || raw.ExitCode != nil || raw.Success != nil) {
		success := true
		if raw.Success != nil {
			success = *raw.Success
		} else if raw.ExitCode != nil {
			success = *raw.ExitCode == 0
		}
		return Result{
			Success:  success,
			ExitCode: raw.ExitCode,
			Stdout:   raw.Stdout,
			Stderr:   raw.Stderr,
			Output:   raw.Output,
		}
	}
	return Result{Success: true, Output: output}
}

func truncateResult(r Result) Result {
	truncated := false
	r.Stdout, truncated = truncateField(r.Stdout, truncated)
	r.Stderr, truncated = truncateField(r.Stderr, truncated)
	r.Output, truncated = truncateField(r.Output, truncated)
	r.Truncated = truncated
	return r
}

func truncateField(s string, truncatedSoFar bool) (string, bool) {
	limit := OutputLimit()
	if len(s) <= limit {
		return s, truncatedSoFar
	}
	cut := limit - len(truncatedSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncatedSuffix, true
}

// sanitizeCommand blanks a command string that matches a write-script
// pattern (heredoc, apply_patch, raw patch body), per the outgoing-envelope
// invariant that such commands never reach the client verbatim.
func sanitizeCommand(command string) string {
	if writeScriptPattern.MatchString(command) {
		return ""
	}
	return strings.TrimSpace(command)
}

// Marshal serializes the envelope to the JSON string stored as a tool
// message's content.
func (e Envelope) Marshal() string {
	b, err := json.Marshal(e)
	if err != nil {
		return e.Result.Output
	}
	return string(b)
}

// Unmarshal parses a tool message's content back into an Envelope. If the
// content isn't a valid envelope (e.g. a legacy plain-string tool result),
// ok is false and callers should treat content as raw output.
func Unmarshal(content string) (Envelope, bool) {
	var e Envelope
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return Envelope{}, false
	}
	if e.Version != EnvelopeVersion {
		return Envelope{}, false
	}
	return e, true
}
