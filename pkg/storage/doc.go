// Package storage persists the governor's durable state in SQLite.
//
// Open selects the driver from configuration: "sqlite" (modernc.org/sqlite,
// pure Go, the default) or "sqlite3" (mattn/go-sqlite3, cgo). The schema is
// created by embedded, ordered migrations recorded in schema_migrations.
//
// Tables:
//
//	bundles           one row per bundle version; one active, one canary
//	policies          policies per bundle; triggers block edits outside draft
//	proposed_actions  the approval tray; transitions are conditional UPDATEs
//	audit_records     append-only; triggers abort UPDATE and DELETE
//	idempotency_keys  completed executor keys
//	evidence_blobs    content-addressed evidence
//
// Each store type implements the matching interface of its domain package
// (registry.Store, actions.Store, evidence.Storage, executor.Ledger,
// evidence.BlobBackend). Times are stored as fixed-width UTC text.
package storage
