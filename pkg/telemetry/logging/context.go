package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey is the context key for HTTP request IDs.
	RequestIDKey contextKey = "request_id"

	// ActorKey is the context key for the acting operator or system component.
	ActorKey contextKey = "actor"

	// ActionIDKey is the context key for proposed action IDs.
	ActionIDKey contextKey = "action_id"

	// BundleVersionKey is the context key for bundle versions.
	BundleVersionKey contextKey = "bundle_version"

	// TraceIDKey is the context key for trace IDs.
	TraceIDKey contextKey = "trace_id"
)

// contextKeys is the order in which context fields are emitted.
var contextKeys = []contextKey{RequestIDKey, ActorKey, ActionIDKey, BundleVersionKey, TraceIDKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithActor adds an actor identity to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the actor identity from the context.
func GetActor(ctx context.Context) string {
	return getString(ctx, ActorKey)
}

// WithActionID adds a proposed action ID to the context.
func WithActionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ActionIDKey, id)
}

// GetActionID retrieves the proposed action ID from the context.
func GetActionID(ctx context.Context) string {
	return getString(ctx, ActionIDKey)
}

// WithBundleVersion adds a bundle version to the context.
func WithBundleVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, BundleVersionKey, version)
}

// GetBundleVersion retrieves the bundle version from the context.
func GetBundleVersion(ctx context.Context) string {
	return getString(ctx, BundleVersionKey)
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields returns the context fields as slog attributes.
func extractContextFields(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, key := range contextKeys {
		if v := getString(ctx, key); v != "" {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}
	return attrs
}

// contextHandler adds context fields to every record it handles.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := extractContextFields(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
