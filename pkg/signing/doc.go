// Package signing exports bundles as signed, self-verifying documents and
// imports them into another environment's registry as drafts.
//
// The signature is ed25519 over the SHA-256 of the canonical JSON of the
// payload (the bundle's version and policies plus the export time). The
// same payload can travel as JSON or as deterministic CBOR; both verify
// against the same signature.
//
// Imports are rejected with an *ImportError when the key is untrusted or
// the signature does not match (signature_invalid), when the export is
// older than the validity window (signature_expired), or when the version
// is not newer than every local version (version_conflict) unless the
// caller asks for a new version:
//
//	b, err := importer.ImportBytes(ctx, data, signing.ImportOptions{Actor: "alice"})
//	var ierr *signing.ImportError
//	if errors.As(err, &ierr) && ierr.Reason == signing.ReasonVersionConflict {
//		b, err = importer.ImportBytes(ctx, data, signing.ImportOptions{Actor: "alice", AsNewVersion: true})
//	}
package signing
