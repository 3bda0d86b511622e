package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// ContextHandler copies the correlation ids a context carries onto each
// record: trace_id and span_id of the active span, and the request_id set
// by WithRequestID.
type ContextHandler struct {
	next slog.Handler
}

// NewContextHandler wraps next. It panics on a nil handler.
func NewContextHandler(next slog.Handler) *ContextHandler {
	if next == nil {
		panic("logctx: nil slog handler")
	}

	return &ContextHandler{next: next}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlation(ctx)...)

	return h.next.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.next.WithAttrs(attrs))
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return NewContextHandler(h.next.WithGroup(name))
}

func correlation(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}

	return attrs
}
