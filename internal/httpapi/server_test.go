package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/route"
)

// echoModule passes the DTO through unchanged; it stands in for all four
// pipeline stages so the test exercises only the HTTP shell's own
// responsibilities (decode, route, encode), not codec/compat behavior
// already covered elsewhere.
type echoModule struct{}

func (echoModule) Initialize(context.Context) error { return nil }
func (echoModule) ProcessIncoming(_ context.Context, req *dto.Request) (*dto.Request, error) {
	return req, nil
}
func (echoModule) ProcessOutgoing(_ context.Context, resp *dto.Response) (*dto.Response, error) {
	return resp, nil
}
func (echoModule) Cleanup(context.Context) error          { return nil }
func (echoModule) Capabilities() pipeline.Capabilities     { return pipeline.Capabilities{} }

type echoProvider struct{}

func (echoProvider) Initialize(context.Context) error { return nil }
func (echoProvider) Execute(_ context.Context, req *dto.Request) (*dto.Response, error) {
	return &dto.Response{
		ID:       req.ID,
		Protocol: req.Protocol,
		Data:     codec.ChatResponse{ID: "chatcmpl-1", Model: req.Model},
	}, nil
}
func (echoProvider) Cleanup(context.Context) error      { return nil }
func (echoProvider) Capabilities() pipeline.Capabilities { return pipeline.Capabilities{} }

func newTestServer(t *testing.T, entry dto.Protocol) *Server {
	t.Helper()
	pl := pipeline.New("prov_key1.model", echoModule{}, echoModule{}, echoModule{}, echoProvider{}, nil)
	pipelines := map[string]*pipeline.BasePipeline{pl.ID: pl}
	selector := route.NewSelector(map[string][]string{"default": {pl.ID}}, nil)
	return NewServer(pipelines, selector, entry, nil)
}

func TestServer_ChatCompletions_HappyPath(t *testing.T) {
	srv := newTestServer(t, dto.ProtocolOpenAIChat)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out codec.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "chatcmpl-1", out.ID)
}

func TestServer_WrongEntryProtocolReturns404(t *testing.T) {
	srv := newTestServer(t, dto.ProtocolAnthropic)

	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RejectsNonJSONContentType(t *testing.T) {
	srv := newTestServer(t, dto.ProtocolOpenAIChat)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("model=gpt-4")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MissingModelRejected(t *testing.T) {
	srv := newTestServer(t, dto.ProtocolOpenAIChat)

	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t, dto.ProtocolOpenAIChat)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
