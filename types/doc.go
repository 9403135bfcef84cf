/*
Package types is the lowest-level shared package: the Message/ToolCall
shape every pipeline DTO is built from, the Error taxonomy the pipeline
runtime and HTTP shell classify failures against, ToolSchema/JSON-Schema
helpers the tooling stage normalizes tool definitions with, and
TokenUsage for provider response accounting. It depends on no other
routecodex package.

# Core types

  - Message, ToolCall: the normalized chat-shaped message the LLMSwitch
    stage converts every entry protocol into and out of.
  - Error: the structured {Code, Message, HTTPStatus, Retryable, Provider,
    Stage, Cause} error every module returns instead of a bare error,
    carrying the ErrorCode taxonomy spec.md §7 defines.
  - ToolSchema: a tool definition in its canonical {name, description,
    parameters} JSON-Schema form.
  - TokenUsage: prompt/completion/total token accounting mirrored into
    dto.Usage after a provider call.
*/
package types
