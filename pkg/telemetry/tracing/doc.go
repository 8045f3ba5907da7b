// Package tracing provides OpenTelemetry spans around evaluation, approval
// and execution.
//
// Spans are exported over OTLP/gRPC when telemetry.tracing.enabled is set;
// otherwise every span is a noop. A nil *Tracer is also valid.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "actions.approve")
//	tracing.SetActionAttributes(span, id, actionType, actor)
//	defer func() { tracing.End(span, err) }()
//
// W3C trace context is extracted from operator API requests and injected
// into webhook executor requests.
package tracing
