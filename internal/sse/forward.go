// Package sse implements the byte-level half of server-sent event
// handling: reading an upstream event-stream body into a channel with
// backpressure, and writing a channel of already-framed events back out to
// an http.ResponseWriter. The pure parsing/accumulation logic lives in
// internal/codec, since it's I/O-free; this package is only the io.Reader
// and http.ResponseWriter plumbing around it. Grounded on the teacher's
// providers/openaicompat/provider.go:StreamSSE loop, simplified to the
// single block-only backpressure policy spec.md §5 calls for — no
// buffering, no drop policies, no watermarks.
package sse

import (
	"context"
	"encoding/json"
	"io"

	"go.uber.org/zap"

	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/dto"
)

// Forward reads body as an SSE event stream and returns a dto.SSEStream
// whose Events channel yields one entry per upstream event, in order. The
// channel is unbuffered: the goroutine reading body blocks on send until
// the consumer reads the previous chunk, so the upstream TCP connection's
// own flow control is the only buffer in play (spec.md §5's
// backpressure-coupled forwarding invariant).
//
// body is closed when the stream ends, the context is cancelled, or the
// returned SSEStream's Cancel func is invoked.
func Forward(ctx context.Context, body io.ReadCloser, logger *zap.Logger) *dto.SSEStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	out := make(chan dto.StreamEvent)

	go func() {
		defer close(out)
		defer body.Close()

		send := func(evt dto.StreamEvent) bool {
			select {
			case out <- evt:
				return true
			case <-streamCtx.Done():
				return false
			}
		}

		err := codec.ParseSSE(body, func(raw codec.SSEEvent) {
			if streamCtx.Err() != nil {
				return
			}
			if raw.Data == "[DONE]" {
				send(dto.StreamEvent{Done: true})
				return
			}
			var chunk codec.ChatResponse
			if jsonErr := json.Unmarshal([]byte(raw.Data), &chunk); jsonErr != nil {
				logger.Debug("sse: skipping unparseable chunk", zap.Error(jsonErr))
				return
			}
			send(dto.StreamEvent{Chunk: chunk})
		})
		if err != nil && streamCtx.Err() == nil {
			send(dto.StreamEvent{Err: err})
		}
	}()

	return &dto.SSEStream{Events: out, Cancel: cancel}
}
