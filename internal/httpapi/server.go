// Package httpapi is the thin external HTTP shell spec.md §6 describes:
// one handler per entry protocol, each decoding the client's native wire
// body, handing it to the Route Selector and the matching pipeline, and
// rendering the result back in that same protocol's dialect. All
// protocol/vendor logic stays in internal/pipeline and internal/codec;
// this package never reshapes a payload itself. Grounded on
// api/handlers/chat.go's handler shape and common.go's response helpers,
// generalized from the teacher's single wrapped Response envelope to the
// three native wire-protocol envelopes RouteCodex must speak.
package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/route"
	"github.com/routecodex/routecodex/internal/sse"
	"github.com/routecodex/routecodex/types"
)

// maxBodyBytes bounds a client request body, mirroring the teacher's
// DecodeJSONBody guard against unbounded request bodies.
const maxBodyBytes = 4 << 20

// Server is the external HTTP shell wired to one assembled pipeline set.
// entryProtocol is the single configured entry protocol spec.md §1 fixes
// for the deployment; only that endpoint is actually served, the other two
// answer 404 so a misconfigured client fails fast and legibly.
type Server struct {
	pipelines     map[string]*pipeline.BasePipeline
	selector      *route.Selector
	entryProtocol dto.Protocol
	logger        *zap.Logger
}

// NewServer builds the HTTP shell over an already-assembled pipeline set.
func NewServer(pipelines map[string]*pipeline.BasePipeline, selector *route.Selector, entryProtocol dto.Protocol, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{pipelines: pipelines, selector: selector, entryProtocol: entryProtocol, logger: logger}
}

// Handler builds the routing table. Every path is always registered; a
// request to a protocol other than entryProtocol answers 404, since
// spec.md §1 fronts providers behind exactly one configured entry
// protocol per deployment.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.endpoint(dto.ProtocolOpenAIChat))
	mux.HandleFunc("POST /v1/responses", s.endpoint(dto.ProtocolOpenAIResponses))
	mux.HandleFunc("POST /v1/messages", s.endpoint(dto.ProtocolAnthropic))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) endpoint(protocol dto.Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if protocol != s.entryProtocol {
			http.NotFound(w, r)
			return
		}
		s.handle(w, r, protocol)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, protocol dto.Protocol) {
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		writeError(w, protocol, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json"), s.logger)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body []byte
	var err error
	if body, err = readAll(r); err != nil {
		writeError(w, protocol, types.NewError(types.ErrInvalidRequest, "failed to read request body").WithCause(err), s.logger)
		return
	}

	req, err := decodeRequest(body, protocol)
	if err != nil {
		writeError(w, protocol, err, s.logger)
		return
	}
	req.ID = uuid.NewString()

	category := route.SelectCategory(featuresOf(body, protocol))
	pipelineID, err := s.selector.Select(category, req.Route.SessionID)
	if err != nil {
		writeError(w, protocol, err, s.logger)
		return
	}

	pl, ok := s.pipelines[pipelineID]
	if !ok {
		writeError(w, protocol, types.NewError(types.ErrRouteMiss, "selected pipeline not registered: "+pipelineID), s.logger)
		return
	}

	rc := dto.NewRequestContext(r.Context(), req, pipelineID)
	resp, err := pl.Run(rc.Ctx, req)
	if err != nil {
		writeError(w, protocol, err, s.logger)
		return
	}

	if resp.Stream != nil {
		onErr := func(w http.ResponseWriter, streamErr error) { writeStreamError(w, protocol, streamErr) }
		if werr := sse.Write(w, resp.Stream, onErr); werr != nil {
			s.logger.Warn("stream forwarding ended with error", zap.Error(werr))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp.Data)
}

func readAll(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// decodeRequest parses body into the concrete wire struct for protocol and
// wraps it in a dto.Request ready for the LLMSwitch stage.
func decodeRequest(body []byte, protocol dto.Protocol) (*dto.Request, error) {
	req := &dto.Request{Protocol: protocol, Metadata: map[string]any{}}

	switch protocol {
	case dto.ProtocolAnthropic:
		var anth codec.AnthropicRequest
		if err := json.Unmarshal(body, &anth); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid Anthropic Messages body").WithCause(err)
		}
		req.Data = anth
		req.Model = anth.Model
		req.Route.Streaming = anth.Stream

	case dto.ProtocolOpenAIResponses:
		var rr codec.ResponsesRequest
		if err := json.Unmarshal(body, &rr); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid Responses body").WithCause(err)
		}
		req.Data = rr
		req.Model = rr.Model
		req.Route.Streaming = rr.Stream
		req.Route.SessionID = rr.PreviousResponseID

	default: // ProtocolOpenAIChat
		var cr codec.ChatRequest
		if err := json.Unmarshal(body, &cr); err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "invalid Chat Completions body").WithCause(err)
		}
		req.Data = cr
		req.Model = cr.Model
		req.Route.Streaming = cr.Stream
	}

	if req.Model == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "model is required")
	}
	return req, nil
}

// featuresOf sniffs route-category signals directly off the raw JSON body
// with gjson, rather than fully modeling every vendor extension field
// (reasoning/thinking flags, image content parts) in internal/codec's
// wire structs — those fields are relevant only to category selection,
// never to the conversion codecs themselves.
func featuresOf(body []byte, protocol dto.Protocol) route.Features {
	f := route.Features{ExplicitCategory: gjson.GetBytes(body, "metadata.category").String()}

	switch protocol {
	case dto.ProtocolAnthropic:
		f.HasImageContent = bytes.Contains(body, []byte(`"type":"image"`))
		f.ThinkingRequested = gjson.GetBytes(body, "thinking").Exists()
	case dto.ProtocolOpenAIResponses:
		f.HasImageContent = bytes.Contains(body, []byte(`"type":"input_image"`))
		f.ThinkingRequested = gjson.GetBytes(body, "reasoning").Exists()
	default:
		f.HasImageContent = bytes.Contains(body, []byte(`"type":"image_url"`))
		f.ThinkingRequested = gjson.GetBytes(body, "reasoning_effort").Exists()
	}

	f.EstimatedTokens = route.EstimateTokens(string(body))
	return f
}
