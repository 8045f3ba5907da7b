// Package logging builds the governor's structured loggers on log/slog.
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
//	ctx = logging.WithActor(ctx, "alice")
//	logger.InfoContext(ctx, "action approved", "action_id", id) // includes actor
//
// Components derive their own logger with logger.With("component", "<name>").
//
// # PII Redaction
//
// With RedactPII set, string attributes are scanned before encoding:
//
//   - Emails: recruiter@example.com → r***@example.com
//   - Bearer tokens: Bearer abc → Bearer ***
//   - Keys containing token, secret, seed, passphrase ... keep a short prefix
package logging
