// Package tlsutil provides the hardened TLS configuration and transport
// pool every outbound provider HTTP client in routecodex builds on.
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig returns a hardened TLS configuration: TLS 1.2 minimum,
// AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// TransportConfig tunes the per-pipeline connection pool bounds routecodex
// assigns to each (provider, model, keyAlias) pipeline, per the bounded
// connection-pool requirement in the concurrency model.
type TransportConfig struct {
	ConnectTimeout      time.Duration
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:      10 * time.Second,
		MaxConnsPerHost:     16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
}

// SecureTransport returns an http.Transport with TLS hardening and the
// given per-host connection bounds.
func SecureTransport(cfg TransportConfig) *http.Transport {
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureHTTPClient returns an http.Client with TLS hardening and a bounded
// per-host connection pool. The client-level Timeout is left at zero —
// callers attach a per-request deadline via context, since streaming reads
// (SSE) can legitimately run far longer than a single request's connect
// phase.
func SecureHTTPClient(cfg TransportConfig) *http.Client {
	return &http.Client{
		Transport: SecureTransport(cfg),
	}
}
