// Package compatibility implements the third pipeline stage: the
// vendor-dialect adjustments spec.md §4.3's "vendor compatibility" concept
// calls for — grafting provider-specific fields onto an already-normalized
// Chat payload, and stripping/translating whatever that vendor's response
// shape adds back. Grounded on providers/glm/provider.go and
// providers/utils.go's field-patching helpers, reimplemented with
// gjson/sjson path queries rather than duplicating codec's strongly typed
// wire structs for every vendor dialect (see DESIGN.md's "Deliberate stdlib
// choices" for why the split lands here and not in internal/codec).
package compatibility

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/types"
)

// Kind names one vendor dialect's compatibility handling.
type Kind string

const (
	KindPassthrough Kind = "passthrough-compatibility"
	KindQwen        Kind = "qwen-compatibility"
	KindGLM         Kind = "glm-compatibility"
	KindIFlow       Kind = "iflow-compatibility"
	KindLMStudio    Kind = "lmstudio-compatibility"
)

type module struct {
	kind   Kind
	logger *zap.Logger
}

// Register adds every vendor-dialect Compatibility module under its
// spec-facing type name.
func Register(reg *pipeline.Registry) {
	for _, kind := range []Kind{KindPassthrough, KindQwen, KindGLM, KindIFlow, KindLMStudio} {
		reg.RegisterCompatibility(string(kind), newFor(kind))
	}
}

func newFor(kind Kind) pipeline.Factory {
	return func(_ map[string]any, deps pipeline.Dependencies) (pipeline.Module, error) {
		return &module{kind: kind, logger: deps.Logger}, nil
	}
}

func (m *module) Name() string { return string(m.kind) }

func (m *module) Initialize(context.Context) error { return nil }
func (m *module) Cleanup(context.Context) error    { return nil }

func (m *module) Capabilities() pipeline.Capabilities {
	return pipeline.Capabilities{Streaming: true, NativeToolCalls: true}
}

// ProcessIncoming marshals the normalized ChatRequest and grafts whatever
// vendor-specific fields this dialect needs onto the wire JSON, re-parsing
// the result back into a ChatRequest-shaped map for the Provider adapter to
// send verbatim. Passthrough leaves the request untouched.
func (m *module) ProcessIncoming(ctx context.Context, req *dto.Request) (*dto.Request, error) {
	if m.kind == KindPassthrough {
		return req, nil
	}

	chat, ok := req.Data.(codec.ChatRequest)
	if !ok {
		return req, nil
	}
	raw, err := json.Marshal(chat)
	if err != nil {
		return nil, compatErr(err)
	}

	patched, err := m.patchRequest(raw)
	if err != nil {
		return nil, compatErr(err)
	}

	var out map[string]any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, compatErr(err)
	}
	req.Data = out
	return req, nil
}

// patchRequest applies one vendor's outbound field grafts via sjson, so
// every dialect's quirks stay a short, declarative diff against the
// canonical Chat wire JSON instead of a parallel struct.
func (m *module) patchRequest(raw []byte) ([]byte, error) {
	switch m.kind {
	case KindQwen:
		if gjson.GetBytes(raw, "reasoning").Exists() {
			return sjson.SetBytes(raw, "enable_thinking", true)
		}
		return raw, nil

	case KindGLM:
		result := raw
		result, err := sjson.SetBytes(result, "thinking.type", "enabled")
		if err != nil {
			return nil, err
		}
		return result, nil

	case KindIFlow:
		// iFlow rejects an empty tool_choice string; normalize to "auto".
		if gjson.GetBytes(raw, "tool_choice").String() == "" && gjson.GetBytes(raw, "tools").IsArray() {
			return sjson.SetBytes(raw, "tool_choice", "auto")
		}
		return raw, nil

	case KindLMStudio:
		// LM Studio's OpenAI-compatible server rejects max_tokens == 0.
		if gjson.GetBytes(raw, "max_tokens").Int() == 0 {
			return sjson.DeleteBytes(raw, "max_tokens")
		}
		return raw, nil

	default:
		return raw, nil
	}
}

// ProcessOutgoing, for GLM only, copies the first choice's
// reasoning_content into resp.Metadata["reasoning"] (when Metadata is
// non-nil). resp.Data is returned unchanged: no field is stripped and
// nothing is folded into the message content. Other dialects pass through.
func (m *module) ProcessOutgoing(ctx context.Context, resp *dto.Response) (*dto.Response, error) {
	if m.kind != KindGLM {
		return resp, nil
	}
	chat, ok := resp.Data.(codec.ChatResponse)
	if !ok {
		return resp, nil
	}
	raw, err := json.Marshal(chat)
	if err != nil {
		return resp, nil
	}
	thinking := gjson.GetBytes(raw, "choices.0.message.reasoning_content")
	if thinking.Exists() && resp.Metadata != nil {
		resp.Metadata["reasoning"] = thinking.String()
	}
	return resp, nil
}

func compatErr(err error) error {
	return types.NewError(types.ErrConversionFailed, "vendor compatibility adjustment failed").WithCause(err).WithStage("compatibility")
}
