package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"jobmail-hq/governor/pkg/config"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, "test", sdktrace.WithSyncer(exporter))
	if err != nil {
		t.Fatalf("NewWithExporter() failed: %v", err)
	}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatal(err)
	}
	if tracer.Enabled() {
		t.Error("disabled tracer reports enabled")
	}

	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("noop span should not carry a trace ID")
	}

	if _, err := New(nil, "test"); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	_, span := tracer.Start(context.Background(), "nil")
	span.End()
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestTracer_RecordsSpans(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	ctx, span := tracer.Start(context.Background(), "actions.approve")
	SetActionAttributes(span, "act-1", "archive", "alice")
	if TraceID(ctx) == "" {
		t.Error("expected trace ID")
	}
	End(span, errors.New("executor failed"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "actions.approve" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}

	found := false
	for _, kv := range got.Attributes {
		if kv.Key == AttrActor && kv.Value.AsString() == "alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("actor attribute missing: %v", got.Attributes)
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.5, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		_, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("createSampler(%q, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
		}
	}
}

func TestHTTPMiddleware_PropagatesContext(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	parentCtx, parent := tracer.Start(context.Background(), "client")
	req := httptest.NewRequest(http.MethodGet, "/v1/bundles", nil)
	Inject(parentCtx, req.Header)
	parent.End()

	var seen string
	handler := tracer.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != TraceID(parentCtx) {
		t.Errorf("handler trace ID = %q, want %q", seen, TraceID(parentCtx))
	}
	if rec.Header().Get("X-Trace-ID") != seen {
		t.Error("X-Trace-ID header not set")
	}
	if len(exporter.GetSpans()) != 2 {
		t.Errorf("got %d spans, want 2", len(exporter.GetSpans()))
	}
}
