package codec

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// SSEEvent is one parsed Server-Sent Event frame: an optional event name and
// its data payload, per the RFC-compatible line grammar (`event:`, `data:`,
// blank-line delimited).
type SSEEvent struct {
	Event string
	Data  string
}

// ParseErr is recorded, not returned, when an individual SSE event's data
// fails to decode — the stream continues per spec.md §4.3.4's
// skip-and-record rule.
type ParseErr struct {
	Raw string
	Err error
}

// ParseSSE reads raw SSE framing from r and invokes onEvent for every
// complete event, grounded on the teacher's bufio.Reader line-scanning
// idiom (providers/openaicompat/provider.go:StreamSSE). It returns when r
// is exhausted or yields an error other than io.EOF.
func ParseSSE(r io.Reader, onEvent func(SSEEvent)) error {
	reader := bufio.NewReader(r)
	var cur SSEEvent
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 && cur.Event == "" {
			return
		}
		cur.Data = strings.Join(dataLines, "\n")
		onEvent(cur)
		cur = SSEEvent{}
		dataLines = nil
	}

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		default:
			// ignore comments/id/retry fields, not used by any upstream here
		}
		if err != nil {
			flush()
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// ChatAccumulator rebuilds a non-streaming ChatResponse from a Chat-protocol
// SSE stream: text deltas concatenate, tool_calls deltas merge by index.
type ChatAccumulator struct {
	id           string
	model        string
	content      strings.Builder
	toolCalls    map[int]*ChatToolCall
	toolOrder    []int
	finishReason string
	parseErrors  []ParseErr
	done         bool
}

func NewChatAccumulator() *ChatAccumulator {
	return &ChatAccumulator{toolCalls: make(map[int]*ChatToolCall)}
}

// Feed processes one SSE event. Once a [DONE] event has been observed,
// Done reports true and later events are ignored.
func (a *ChatAccumulator) Feed(evt SSEEvent) {
	if a.done {
		return
	}
	if strings.TrimSpace(evt.Data) == "[DONE]" {
		a.done = true
		return
	}
	var chunk ChatResponse
	if err := json.Unmarshal([]byte(evt.Data), &chunk); err != nil {
		a.parseErrors = append(a.parseErrors, ParseErr{Raw: evt.Data, Err: err})
		return
	}
	if a.id == "" {
		a.id = chunk.ID
	}
	if a.model == "" {
		a.model = chunk.Model
	}
	for _, choice := range chunk.Choices {
		delta := choice.Delta
		if delta == nil {
			continue
		}
		a.content.WriteString(delta.Content)
		for i, tc := range delta.ToolCalls {
			idx := i
			existing, ok := a.toolCalls[idx]
			if !ok {
				cp := tc
				a.toolCalls[idx] = &cp
				a.toolOrder = append(a.toolOrder, idx)
				continue
			}
			if tc.ID != "" {
				existing.ID = tc.ID
			}
			if tc.Function.Name != "" {
				existing.Function.Name = tc.Function.Name
			}
			existing.Function.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			a.finishReason = choice.FinishReason
		}
	}
}

// Done reports whether a terminal signal has been observed.
func (a *ChatAccumulator) Done() bool { return a.done }

// ParseErrors returns every parse-error signal recorded during accumulation.
func (a *ChatAccumulator) ParseErrors() []ParseErr { return a.parseErrors }

// Result produces the final JSON-equivalent ChatResponse the upstream would
// have returned non-streaming.
func (a *ChatAccumulator) Result() ChatResponse {
	msg := ChatMessage{Role: "assistant", Content: a.content.String()}
	for _, idx := range a.toolOrder {
		msg.ToolCalls = append(msg.ToolCalls, *a.toolCalls[idx])
	}
	finish := a.finishReason
	if finish == "" {
		if len(msg.ToolCalls) > 0 {
			finish = "tool_calls"
		} else {
			finish = "stop"
		}
	}
	return ChatResponse{
		ID:    a.id,
		Model: a.model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
	}
}

// ResponsesAccumulator rebuilds a non-streaming ResponsesResponse from the
// response.output_item.added / .delta / .completed event protocol.
type ResponsesAccumulator struct {
	id          string
	model       string
	items       map[string]*ResponsesOutputItem
	order       []string
	parseErrors []ParseErr
	done        bool
}

func NewResponsesAccumulator() *ResponsesAccumulator {
	return &ResponsesAccumulator{items: make(map[string]*ResponsesOutputItem)}
}

type responsesEventEnvelope struct {
	Type     string               `json:"type"`
	Item     *ResponsesOutputItem `json:"item,omitempty"`
	ItemID   string               `json:"item_id,omitempty"`
	Delta    string               `json:"delta,omitempty"`
	Response *ResponsesResponse   `json:"response,omitempty"`
}

func (a *ResponsesAccumulator) Feed(evt SSEEvent) {
	if a.done {
		return
	}
	if strings.TrimSpace(evt.Data) == "[DONE]" {
		a.done = true
		return
	}
	var env responsesEventEnvelope
	if err := json.Unmarshal([]byte(evt.Data), &env); err != nil {
		a.parseErrors = append(a.parseErrors, ParseErr{Raw: evt.Data, Err: err})
		return
	}

	switch env.Type {
	case "response.output_item.added":
		if env.Item == nil {
			return
		}
		id := env.Item.ID
		if id == "" {
			id = env.ItemID
		}
		item := *env.Item
		a.items[id] = &item
		a.order = append(a.order, id)

	case "response.output_item.delta":
		item, ok := a.items[env.ItemID]
		if !ok {
			return
		}
		if len(item.Content) == 0 {
			item.Content = []ResponsesContentPart{{Type: "output_text"}}
		}
		item.Content[len(item.Content)-1].Text += env.Delta
		item.Arguments += env.Delta

	case "response.completed":
		a.done = true
		if env.Response != nil {
			a.id = env.Response.ID
			a.model = env.Response.Model
		}
	}
}

func (a *ResponsesAccumulator) Done() bool           { return a.done }
func (a *ResponsesAccumulator) ParseErrors() []ParseErr { return a.parseErrors }

func (a *ResponsesAccumulator) Result() ResponsesResponse {
	out := ResponsesResponse{ID: a.id, Model: a.model}
	for _, id := range a.order {
		out.Output = append(out.Output, *a.items[id])
	}
	return out
}

// ChatResponseToSSE is the inverse of ChatAccumulator: given a fully
// buffered ChatResponse (e.g. because the upstream pipeline is configured
// streamingToNonStreaming), synthesize the SSE chunks a streaming client
// expects. It emits one content-delta chunk (when the message has text),
// one chunk per tool call, one finish-reason chunk, and a final [DONE]
// event.
func ChatResponseToSSE(resp ChatResponse) []SSEEvent {
	if len(resp.Choices) == 0 {
		return []SSEEvent{{Data: "[DONE]"}}
	}
	choice := resp.Choices[0]
	var events []SSEEvent

	if choice.Message.Content != "" {
		delta := ChatResponse{
			ID:    resp.ID,
			Model: resp.Model,
			Choices: []ChatChoice{{
				Index: 0,
				Delta: &ChatMessage{Role: "assistant", Content: choice.Message.Content},
			}},
		}
		events = append(events, mustSSEEvent(delta))
	}
	for _, tc := range choice.Message.ToolCalls {
		delta := ChatResponse{
			ID:    resp.ID,
			Model: resp.Model,
			Choices: []ChatChoice{{
				Index: 0,
				Delta: &ChatMessage{Role: "assistant", ToolCalls: []ChatToolCall{tc}},
			}},
		}
		events = append(events, mustSSEEvent(delta))
	}

	final := ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Delta:        &ChatMessage{},
			FinishReason: choice.FinishReason,
		}},
	}
	events = append(events, mustSSEEvent(final))
	events = append(events, SSEEvent{Data: "[DONE]"})
	return events
}

func mustSSEEvent(resp ChatResponse) SSEEvent {
	data, err := json.Marshal(resp)
	if err != nil {
		return SSEEvent{Data: "{}"}
	}
	return SSEEvent{Data: string(data)}
}
