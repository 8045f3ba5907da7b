package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrBundleVersion = attribute.Key("governor.bundle.version")
	AttrPolicyID      = attribute.Key("governor.policy.id")
	AttrResourceID    = attribute.Key("governor.resource.id")
	AttrActionID      = attribute.Key("governor.action.id")
	AttrActionType    = attribute.Key("governor.action.type")
	AttrActor         = attribute.Key("governor.actor")
	AttrMatched       = attribute.Key("governor.evaluation.matched")
	AttrConfidence    = attribute.Key("governor.evaluation.confidence")
	AttrAttempt       = attribute.Key("governor.execution.attempt")
	AttrErrorKind     = attribute.Key("governor.execution.error_kind")
)

// SetEvaluationAttributes annotates a span with an evaluation result.
func SetEvaluationAttributes(span trace.Span, bundle, resourceID, policyID string, matched bool, confidence float64) {
	attrs := []attribute.KeyValue{
		AttrBundleVersion.String(bundle),
		AttrResourceID.String(resourceID),
		AttrMatched.Bool(matched),
	}
	if matched {
		attrs = append(attrs, AttrPolicyID.String(policyID), AttrConfidence.Float64(confidence))
	}
	span.SetAttributes(attrs...)
}

// SetActionAttributes annotates a span with a proposed action.
func SetActionAttributes(span trace.Span, actionID, actionType, actor string) {
	attrs := []attribute.KeyValue{
		AttrActionID.String(actionID),
		AttrActionType.String(actionType),
	}
	if actor != "" {
		attrs = append(attrs, AttrActor.String(actor))
	}
	span.SetAttributes(attrs...)
}
