// Package server provides the operator HTTP API of the governor.
//
// The API is a chi router over the bundle registry, the proposed action
// workflow and the audit trail. Every mutating call names its operator in
// the X-Actor header; requests without one get 400 and change nothing.
//
// When Deps.Auth is set every /v1 request needs an operator API key or a
// verified client certificate (401 otherwise). The authenticated identity
// is then the actor, and an X-Actor naming anyone else gets 403. Deps.TLS
// serves the API over HTTPS.
//
// # Routes
//
//	GET    /healthz, /readyz, /metrics, /version
//	GET    /v1/bundles
//	POST   /v1/bundles                          create draft
//	POST   /v1/bundles/import                   signed export body, ?as_new_version=true
//	POST   /v1/bundles/sync                     draft from the git source
//	GET    /v1/bundles/{version}
//	GET    /v1/bundles/{version}/export         ?encoding=json|cbor
//	POST   /v1/bundles/{version}/test           dry run, creates nothing
//	POST   /v1/bundles/{version}/policies
//	PUT    /v1/bundles/{version}/policies/{id}
//	DELETE /v1/bundles/{version}/policies/{id}
//	POST   /v1/bundles/{version}/canary|promote|activate|rollback
//	POST   /v1/actions/propose
//	GET    /v1/actions?status=pending&limit=&offset=
//	GET    /v1/actions/{id}
//	POST   /v1/actions/{id}/approve|reject
//	GET    /v1/audit?actor=&event=&since=&format=csv
//
// Stage transitions take {"expected_version": "<active version>"} and fail
// with 409 when another operator changed the active bundle first.
//
// # Errors
//
// Errors are JSON envelopes {"error": {"code", "message"}, "request_id"}.
// Status codes follow the error type: validation 400, not found 404,
// version conflict or action no longer pending 409, rejected import 422
// (with "reason"), failed rollback 503, anything else 500.
//
// # Middleware
//
// Outermost first: panic recovery, request ID (X-Request-ID), tracing,
// request logging and the request body limit. Authentication wraps the /v1
// routes only, so probes and metrics stay open.
package server
