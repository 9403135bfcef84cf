// Package ctxkeys defines the context.Context keys threaded through a
// request's lifetime: the trace id a client-visible error or log line can
// be correlated against, and the pipeline id the Route Selector picked for
// it. Both mirror fields spec.md §3's Response.metadata already carries
// (requestId, pipelineId) — this package makes the same values reachable
// from code that only has a context.Context in hand (retry/breaker
// logging, OAuth refresh logging) without threading the DTO itself
// through every call.
package ctxkeys

import "context"

type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	pipelineIDKey contextKey = "pipeline_id"
)

// WithTraceID attaches the request id a pipeline run is processing.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the request id set by WithTraceID, if any.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	return v, ok && v != ""
}

// WithPipelineID attaches the pipeline id the Route Selector chose for the
// request, so the pipeline's own modules can log it without needing the
// DTO passed down to every call site.
func WithPipelineID(ctx context.Context, pipelineID string) context.Context {
	return context.WithValue(ctx, pipelineIDKey, pipelineID)
}

// PipelineID extracts the pipeline id set by WithPipelineID, if any.
func PipelineID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(pipelineIDKey).(string)
	return v, ok && v != ""
}
