package toolenvelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/routecodex/routecodex/types"
)

// FailureClass categorizes why a tool call needed correction, so a repair
// hint can be templated per class instead of dumping a raw error back at the
// model.
type FailureClass string

const (
	FailureSchemaViolation FailureClass = "schema-violation"
	FailureUnknownTool     FailureClass = "unknown-tool"
	FailureArgumentParse   FailureClass = "argument-parse"
	FailureExecutionError  FailureClass = "execution-error"
)

var repairTemplates = map[FailureClass]string{
	FailureSchemaViolation: "The arguments for tool %q did not match its schema: %s. " +
		"Re-emit the tool call with arguments that satisfy every required field and type.",
	FailureUnknownTool: "Tool %q is not in the list of tools available for this request. " +
		"Choose one of the tools offered, or respond without a tool call.",
	FailureArgumentParse: "The arguments for tool %q could not be parsed as JSON: %s. " +
		"Re-emit the tool call with a single well-formed JSON object as arguments.",
	FailureExecutionError: "Executing tool %q failed: %s. " +
		"Decide whether to retry with adjusted arguments or continue without this tool's result.",
}

// RepairHint renders the self-repair message for a failure class, filled in
// with the tool name and a short detail string, then appends the two
// corrective elements the self-repair contract requires: the full list of
// tools actually available this turn, and an illustrative corrected
// invocation built from the offending (or, for an unknown-tool failure, the
// first available) tool's declared schema.
func RepairHint(class FailureClass, toolName, detail string, available []types.ToolSchema) string {
	tmpl, ok := repairTemplates[class]
	if !ok {
		tmpl = "Tool %q could not be used: %s. Adjust the tool call and try again."
	}
	hint := fmt.Sprintf(tmpl, toolName, detail)
	if names := toolNames(available); names != "" {
		hint += " Tools available this turn: " + names + "."
	}
	if example := exampleInvocation(toolName, available); example != "" {
		hint += " For example: " + example
	}
	return hint
}

func toolNames(available []types.ToolSchema) string {
	if len(available) == 0 {
		return ""
	}
	names := make([]string, 0, len(available))
	for _, t := range available {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

// exampleInvocation looks up toolName in available (falling back to the
// first available tool when toolName is unknown, as with a
// FailureUnknownTool hint) and renders a {"name", "arguments"} call
// populated with placeholder values for every required parameter drawn from
// the tool's JSON Schema.
func exampleInvocation(toolName string, available []types.ToolSchema) string {
	tool, ok := findTool(toolName, available)
	if !ok {
		return ""
	}
	schema, err := types.FromJSON(tool.Parameters)
	if err != nil || schema == nil {
		return fmt.Sprintf(`{"name": %q, "arguments": {}}`, tool.Name)
	}
	args := make(map[string]any, len(schema.Required))
	for _, name := range schema.Required {
		args[name] = placeholderValue(name, schema.Properties[name])
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		argsJSON = []byte("{}")
	}
	return fmt.Sprintf(`{"name": %q, "arguments": %s}`, tool.Name, argsJSON)
}

func findTool(toolName string, available []types.ToolSchema) (types.ToolSchema, bool) {
	for _, t := range available {
		if t.Name == toolName {
			return t, true
		}
	}
	if len(available) > 0 {
		return available[0], true
	}
	return types.ToolSchema{}, false
}

func placeholderValue(name string, prop *types.JSONSchema) any {
	if prop == nil {
		return "<" + name + ">"
	}
	switch prop.Type {
	case types.SchemaTypeInteger, types.SchemaTypeNumber:
		return 0
	case types.SchemaTypeBoolean:
		return false
	case types.SchemaTypeArray:
		return []any{}
	case types.SchemaTypeObject:
		return map[string]any{}
	default:
		return "<" + name + ">"
	}
}
