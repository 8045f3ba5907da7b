// Governor runs the mailbox policy governor: versioned policy bundles with
// staged rollout, a proposed action approval tray and an append-only audit
// trail.
//
// Usage:
//
//	# Start the operator API with default configuration
//	governor run
//
//	# Start with a custom configuration file
//	governor run --config /etc/governor/config.yaml
//
//	# Check a bundle document before creating a draft
//	governor validate bundles/next.yaml
//
//	# Dry-run a bundle document against sample resources
//	governor test bundles/next.yaml --contexts samples.yaml
//
//	# Roll a draft out
//	governor bundle create bundles/next.yaml
//	governor bundle canary 1.4.0 --expected 1.3.2
//	governor bundle promote 1.4.0 --expected 1.3.2
//	governor bundle activate 1.4.0 --expected 1.3.2
//
//	# Work the approval tray
//	governor action list --status pending
//	governor action approve 6f1c...
//
//	# Query the audit trail
//	governor audit --event rolled_back --since 2025-01-01T00:00:00Z
package main

func main() {
	Execute()
}
