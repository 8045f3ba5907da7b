// Package executor dispatches approved actions to their side-effecting
// executors.
//
// A Registry maps action types to Executors and is frozen at startup. The
// Dispatcher bounds every attempt with a timeout and classifies failures:
//
//   - transient: timeouts, deadline expiry, network errors, HTTP 429/5xx
//     and errors wrapped with Transient. Retried exactly once.
//   - permanent: everything else. Never retried.
//
// The action ID is the idempotency key. Completed keys are kept in a Ledger
// (memory here, SQL in pkg/storage) so a repeated dispatch returns success
// without calling the executor again; a Pruner drops keys past retention.
//
// An optional ratelimit.Limiter throttles attempts per action type. Waiting
// for a token counts against the attempt timeout, and a token that cannot
// arrive in time fails the attempt as transient.
//
// Built-in executors cover the Mailbox operations (archive, label,
// quarantine, unsubscribe) and HTTP delivery (notify, webhook), which sends
// the key in the Idempotency-Key header.
package executor
