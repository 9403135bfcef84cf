package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routecodex/routecodex/types"
)

func TestModule_Execute_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"r1","choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	m := New(Config{ProviderID: "test", BaseURL: srv.URL, EndpointPath: "/v1/chat/completions"}, StaticKeyCredential("secret"), nil)
	result, err := m.Execute(context.Background(), []byte(`{}`), false)
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Contains(t, string(result.Body), `"hi"`)
}

func TestModule_Execute_AuthErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	m := New(Config{ProviderID: "test", BaseURL: srv.URL, EndpointPath: "/v1/x"}, StaticKeyCredential("bad"), nil)
	_, err := m.Execute(context.Background(), []byte(`{}`), false)
	require.Error(t, err)

	var te *types.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, types.ErrAuthentication, te.Code)
	assert.Equal(t, 1, calls)
}

func TestModule_Execute_RetriesOn5xxThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"r1"}`))
	}))
	defer srv.Close()

	cfg := Config{ProviderID: "test", BaseURL: srv.URL, EndpointPath: "/v1/x"}
	m := New(cfg, StaticKeyCredential("k"), nil)
	m.retryer = NewBackoffRetryer(&RetryPolicy{MaxRetries: 2, InitialDelay: 1000000, MaxDelay: 1000000}, nil)

	result, err := m.Execute(context.Background(), []byte(`{}`), false)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 200, result.StatusCode)
}

func TestModule_Execute_StreamReturnsOpenBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"choices\":[]}\n\n"))
	}))
	defer srv.Close()

	m := New(Config{ProviderID: "test", BaseURL: srv.URL, EndpointPath: "/v1/stream"}, StaticKeyCredential("k"), nil)
	result, err := m.Execute(context.Background(), []byte(`{}`), true)
	require.NoError(t, err)
	require.NotNil(t, result.Stream)
	defer result.Stream.Close()

	data, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(data), "choices")
}
