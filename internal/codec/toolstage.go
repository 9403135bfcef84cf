package codec

import "encoding/json"

const defaultToolCeiling = 32

// ToolStageOptions configures the shared OpenAI tooling normalization pass
// that runs on every outbound Chat request, per spec.md §4.3.3.
type ToolStageOptions struct {
	// Ceiling caps the number of tool definitions forwarded upstream.
	// Zero means "use the default of 32".
	Ceiling int
	// AllowList, when non-empty, switches the stage into additive
	// allow-list mode: only tool definitions whose name appears here
	// survive. An empty AllowList means unfiltered (see DESIGN.md Open
	// Question log — there is no default built-in allow-list).
	AllowList []string
	// GuidanceEnabled controls whether the one-time tool-usage-guidance
	// system message is injected when tools are present.
	GuidanceEnabled bool
	// GuidanceText is the message injected when GuidanceEnabled is true.
	GuidanceText string
}

// NormalizeToolStage applies the shared tooling pass to req in place and
// returns it: dedupe tool definitions by function name, apply an
// allow-list if configured, enforce the configured ceiling, stringify every
// assistant tool call's arguments, and inject the tool-usage guidance
// message exactly once.
func NormalizeToolStage(req ChatRequest, opts ToolStageOptions) ChatRequest {
	req.Tools = dedupeTools(req.Tools)

	if len(opts.AllowList) > 0 {
		req.Tools = filterByAllowList(req.Tools, opts.AllowList)
	}

	ceiling := opts.Ceiling
	if ceiling <= 0 {
		ceiling = defaultToolCeiling
	}
	if len(req.Tools) > ceiling {
		req.Tools = req.Tools[:ceiling]
	}

	req.Messages = stringifyToolCallArguments(req.Messages)

	if len(req.Tools) > 0 && opts.GuidanceEnabled && opts.GuidanceText != "" {
		req.Messages = injectGuidanceOnce(req.Messages, opts.GuidanceText)
	}

	return req
}

func dedupeTools(tools []ChatTool) []ChatTool {
	seen := make(map[string]bool, len(tools))
	out := make([]ChatTool, 0, len(tools))
	for _, t := range tools {
		if seen[t.Function.Name] {
			continue
		}
		seen[t.Function.Name] = true
		out = append(out, t)
	}
	return out
}

func filterByAllowList(tools []ChatTool, allowList []string) []ChatTool {
	allowed := make(map[string]bool, len(allowList))
	for _, name := range allowList {
		allowed[name] = true
	}
	out := make([]ChatTool, 0, len(tools))
	for _, t := range tools {
		if allowed[t.Function.Name] {
			out = append(out, t)
		}
	}
	return out
}

// stringifyToolCallArguments ensures every assistant tool call's
// function.arguments is a JSON string: an object gets marshaled, and a null
// or empty value becomes "{}".
func stringifyToolCallArguments(messages []ChatMessage) []ChatMessage {
	for i, m := range messages {
		if len(m.ToolCalls) == 0 {
			continue
		}
		for j, tc := range m.ToolCalls {
			messages[i].ToolCalls[j].Function.Arguments = stringifyArguments(tc.Function.Arguments)
		}
	}
	return messages
}

func stringifyArguments(args string) string {
	if args == "" || args == "null" {
		return "{}"
	}
	var probe any
	if err := json.Unmarshal([]byte(args), &probe); err != nil {
		// Not valid JSON at all: treat as an already-stringified blob.
		return args
	}
	if _, isString := probe.(string); isString {
		return args // already a JSON string encoding
	}
	// A JSON object/array/number/bool decoded directly: re-marshal to make
	// certain it is carried as a string, not a structured value.
	encoded, err := json.Marshal(probe)
	if err != nil {
		return args
	}
	return string(encoded)
}

const guidanceMarker = "routecodex-tool-guidance"

// injectGuidanceOnce prepends a system message carrying the tool-usage
// guidance text, unless a message carrying the guidance marker is already
// present — the idempotence law spec.md §8 requires.
func injectGuidanceOnce(messages []ChatMessage, text string) []ChatMessage {
	for _, m := range messages {
		if m.Role == "system" && m.Name == guidanceMarker {
			return messages
		}
	}
	guidance := ChatMessage{Role: "system", Name: guidanceMarker, Content: text}
	return append([]ChatMessage{guidance}, messages...)
}
