// Package evidence records the governor's append-only audit trail.
//
// Every proposal, decision, execution, promotion, rollback and import is
// written as an AuditRecord through a Recorder. Records are never updated or
// deleted; an operator fixes a wrong record by appending a correction that
// supersedes it:
//
//	rec, err := recorder.Correct(ctx, wrongID, "alice", "approved by mistake")
//
// # Storage
//
// Storage implementations (MemoryStorage here, the SQL store in
// pkg/storage) expose only Append and read operations. The SQL schema adds
// triggers that abort any UPDATE or DELETE of audit rows.
//
// # Evidence Blobs
//
// Larger evidence (the evaluation context of a proposal, the monitor's
// window snapshot at rollback) is stored in a BlobStore and referenced from
// the record as "blake3:<hex>". Blobs are optionally zstd-compressed and
// age-encrypted at rest; reads verify the plaintext against the reference.
//
// Subpackages export records (export) and validate audit queries (query).
package evidence
