package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/types"
)

// writeError renders err in the inbound protocol's native error shape and
// maps its code to an HTTP status, per spec.md §7: OpenAI-dialect clients
// (Chat and Responses both use the OpenAI error envelope) see
// {"error":{"message","type","code"}}; Anthropic clients see
// {"type":"error","error":{"type","message"}}.
func writeError(w http.ResponseWriter, protocol dto.Protocol, err error, logger *zap.Logger) {
	rcErr, ok := err.(*types.Error)
	if !ok {
		rcErr = types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}
	status := rcErr.HTTPStatus
	if status == 0 {
		status = types.HTTPStatusForCode(rcErr.Code)
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("code", string(rcErr.Code)),
			zap.Int("status", status),
			zap.String("provider", rcErr.Provider),
			zap.String("stage", rcErr.Stage),
			zap.Error(rcErr.Cause),
		)
	}

	var body any
	switch protocol {
	case dto.ProtocolAnthropic:
		body = map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    string(rcErr.Code),
				"message": rcErr.Message,
			},
		}
	default: // OpenAI Chat and Responses share the OpenAI error envelope.
		body = map[string]any{
			"error": map[string]any{
				"message": rcErr.Message,
				"type":    string(rcErr.Code),
				"code":    string(rcErr.Code),
			},
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeStreamError renders a terminal SSE error event in the inbound
// protocol's dialect, for a failure discovered after the first event has
// already been flushed (so a status code can no longer be set).
func writeStreamError(w http.ResponseWriter, protocol dto.Protocol, err error) {
	rcErr, ok := err.(*types.Error)
	if !ok {
		rcErr = types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}

	var frame string
	switch protocol {
	case dto.ProtocolAnthropic:
		payload, _ := json.Marshal(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": string(rcErr.Code), "message": rcErr.Message},
		})
		frame = "event: error\ndata: " + string(payload) + "\n\n"
	default:
		payload, _ := json.Marshal(map[string]any{
			"error": map[string]any{"message": rcErr.Message, "type": string(rcErr.Code)},
		})
		frame = "data: " + string(payload) + "\n\n"
	}
	_, _ = w.Write([]byte(frame))
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
