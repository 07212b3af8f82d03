package tracing

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderTraceID carries the trace ID across HTTP hops
const HeaderTraceID = "X-Trace-Id"

// FromRequest returns the request context carrying the caller's trace ID,
// or a new one when the header is missing or malformed.
func FromRequest(r *http.Request) context.Context {
	traceID := r.Header.Get(HeaderTraceID)
	if _, err := uuid.Parse(traceID); err != nil {
		traceID = NewTraceID()
	}
	return WithTraceID(r.Context(), traceID)
}

// Inject copies the trace ID from ctx onto an outbound request
func Inject(ctx context.Context, req *http.Request) {
	if traceID := GetTraceID(ctx); traceID != "" {
		req.Header.Set(HeaderTraceID, traceID)
	}
}

// LoggerFromContext adds tracing fields from ctx to baseLogger
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	logCtx := baseLogger.With()

	if tc.TraceID != "" {
		logCtx = logCtx.Str("trace_id", tc.TraceID)
	}
	if tc.User != "" {
		logCtx = logCtx.Str("user", tc.User)
	}
	if tc.Job != "" {
		logCtx = logCtx.Str("job", tc.Job)
	}

	return logCtx.Logger()
}
