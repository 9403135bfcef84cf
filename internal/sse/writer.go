package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/routecodex/routecodex/internal/dto"
)

// Write drains stream to w as standard `data: <json>\n\n` SSE frames,
// flushing after every event so the client sees each chunk as it arrives
// rather than buffered until the handler returns. It is protocol-agnostic:
// by the time a chunk reaches here, the LLMSwitch stage has already
// reshaped it into the client's native event shape (a map[string]any or a
// wire struct), so Write only needs to marshal and frame it.
//
// onErr renders a terminal error discovered mid-stream into the frame the
// caller's entry protocol expects; the caller owns dialect knowledge, this
// package only owns SSE framing. A nil onErr falls back to a generic
// {"error": "..."} data frame.
func Write(w http.ResponseWriter, stream *dto.SSEStream, onErr func(http.ResponseWriter, error)) error {
	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for evt := range stream.Events {
		if evt.Err != nil {
			if onErr != nil {
				onErr(w, evt.Err)
			} else {
				writeFrame(w, map[string]any{"error": evt.Err.Error()})
			}
			if flusher != nil {
				flusher.Flush()
			}
			return evt.Err
		}
		if evt.Done {
			fmt.Fprint(w, "data: [DONE]\n\n")
			if flusher != nil {
				flusher.Flush()
			}
			return nil
		}
		writeFrame(w, evt.Chunk)
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

func writeFrame(w http.ResponseWriter, chunk any) {
	data, err := json.Marshal(chunk)
	if err != nil {
		fmt.Fprintf(w, "data: {}\n\n")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
