package config

import (
	"encoding/hex"
	"fmt"
	"maps"
	"net"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. All errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateRollout(&cfg.Rollout)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateSigning(&cfg.Signing)...)
	errs = append(errs, validateGit(&cfg.Git)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{"server.listen_address", fmt.Sprintf("invalid address %q: %v", cfg.ListenAddress, err)})
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 || cfg.IdleTimeout < 0 || cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{"server", "timeouts must not be negative"})
	}
	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{"server.max_body_bytes", "must not be negative"})
	}
	if cfg.Auth.Enabled && len(cfg.Auth.Keys) == 0 && cfg.TLS.ClientCAFile == "" {
		errs = append(errs, FieldError{"server.auth.keys", "a key or server.tls.client_ca_file is required when auth is enabled"})
	}
	if cfg.TLS.Enabled && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		errs = append(errs, FieldError{"server.tls", "cert_file and key_file are required when TLS is enabled"})
	}
	switch cfg.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{"server.tls.min_version", fmt.Sprintf("must be \"1.2\" or \"1.3\", got %q", cfg.TLS.MinVersion)})
	}
	if cfg.TLS.ClientCAFile != "" && !cfg.TLS.Enabled {
		errs = append(errs, FieldError{"server.tls.client_ca_file", "requires server.tls.enabled"})
	}
	for i, k := range cfg.Auth.Keys {
		field := fmt.Sprintf("server.auth.keys[%d]", i)
		if k.Actor == "" {
			errs = append(errs, FieldError{field + ".actor", "is required"})
		}
		if b, err := hex.DecodeString(k.Hash); err != nil || len(b) != 32 {
			errs = append(errs, FieldError{field + ".hash", "must be a 64 character hex blake3 digest"})
		}
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError
	switch cfg.Backend {
	case "sqlite", "memory":
	default:
		errs = append(errs, FieldError{"storage.backend", fmt.Sprintf("must be \"sqlite\" or \"memory\", got %q", cfg.Backend)})
	}
	switch cfg.SQLite.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, FieldError{"storage.sqlite.driver", fmt.Sprintf("must be \"sqlite\" or \"sqlite3\", got %q", cfg.SQLite.Driver)})
	}
	if cfg.SQLite.MaxOpenConns < 0 {
		errs = append(errs, FieldError{"storage.sqlite.max_open_conns", "must not be negative"})
	}
	return errs
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError
	if cfg.MaxConditionDepth < 1 {
		errs = append(errs, FieldError{"engine.max_condition_depth", "must be at least 1"})
	}
	switch cfg.DefaultScorer {
	case "match_ratio", "static":
	default:
		errs = append(errs, FieldError{"engine.default_scorer", fmt.Sprintf("unknown scorer %q", cfg.DefaultScorer)})
	}
	return errs
}

func validateRate(field string, v float64) []FieldError {
	if v < 0 || v > 1 {
		return []FieldError{{field, fmt.Sprintf("must be between 0 and 1, got %v", v)}}
	}
	return nil
}

func validateRollout(cfg *RolloutConfig) []FieldError {
	var errs []FieldError
	if cfg.Window <= 0 {
		errs = append(errs, FieldError{"rollout.window", "must be positive"})
	}
	if cfg.SoakTime < 0 {
		errs = append(errs, FieldError{"rollout.soak_time", "must not be negative"})
	}
	if cfg.Gates.MinSampleSize < 0 {
		errs = append(errs, FieldError{"rollout.gates.min_sample_size", "must not be negative"})
	}
	errs = append(errs, validateRate("rollout.gates.max_error_rate", cfg.Gates.MaxErrorRate)...)
	errs = append(errs, validateRate("rollout.gates.max_deny_rate", cfg.Gates.MaxDenyRate)...)
	errs = append(errs, validateRate("rollout.triggers.error_rate", cfg.Triggers.ErrorRate)...)
	errs = append(errs, validateRate("rollout.triggers.deny_rate", cfg.Triggers.DenyRate)...)
	errs = append(errs, validateRate("rollout.triggers.zero_match_rate", cfg.Triggers.ZeroMatchRate)...)
	if cfg.Gates.MaxCostDelta < 0 || cfg.Triggers.CostDelta < 0 {
		errs = append(errs, FieldError{"rollout", "cost deltas must not be negative"})
	}
	if cfg.Triggers.MinSamples < 1 {
		errs = append(errs, FieldError{"rollout.triggers.min_samples", "must be at least 1"})
	}
	if _, err := cron.ParseStandard(cfg.MonitorSchedule); err != nil {
		errs = append(errs, FieldError{"rollout.monitor_schedule", fmt.Sprintf("invalid schedule: %v", err)})
	}
	return errs
}

func validateExecutor(cfg *ExecutorConfig) []FieldError {
	var errs []FieldError
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{"executor.timeout", "must be positive"})
	}
	if cfg.IdempotencyRetention <= 0 {
		errs = append(errs, FieldError{"executor.idempotency_retention", "must be positive"})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{"executor.prune_schedule", fmt.Sprintf("invalid schedule: %v", err)})
	}
	for _, actionType := range slices.Sorted(maps.Keys(cfg.RateLimits)) {
		rl := cfg.RateLimits[actionType]
		field := "executor.rate_limits." + actionType
		switch {
		case rl.Rate < 0 || rl.Burst < 0 || rl.MaxConcurrent < 0:
			errs = append(errs, FieldError{field, "values must not be negative"})
		case rl.Rate == 0 && rl.MaxConcurrent == 0:
			errs = append(errs, FieldError{field, "set rate or max_concurrent"})
		}
	}
	return errs
}

func validateSigning(cfg *SigningConfig) []FieldError {
	var errs []FieldError
	if cfg.MaxAge <= 0 {
		errs = append(errs, FieldError{"signing.max_age", "must be positive"})
	}
	switch cfg.Encoding {
	case "json", "cbor":
	default:
		errs = append(errs, FieldError{"signing.encoding", fmt.Sprintf("must be \"json\" or \"cbor\", got %q", cfg.Encoding)})
	}
	if cfg.SeedPath != "" && cfg.KeyID == "" {
		errs = append(errs, FieldError{"signing.key_id", "required when seed_path is set"})
	}
	return errs
}

func validateGit(cfg *GitConfig) []FieldError {
	var errs []FieldError
	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			errs = append(errs, FieldError{"git.auth.token", "required when auth type is \"token\""})
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{"git.auth.ssh_key_path", "required when auth type is \"ssh\""})
		}
	default:
		errs = append(errs, FieldError{"git.auth.type", fmt.Sprintf("unknown auth type %q", cfg.Auth.Type)})
	}
	if cfg.PollSchedule != "" {
		if _, err := cron.ParseStandard(cfg.PollSchedule); err != nil {
			errs = append(errs, FieldError{"git.poll_schedule", fmt.Sprintf("invalid schedule: %v", err)})
		}
	}
	if cfg.Depth < 0 {
		errs = append(errs, FieldError{"git.depth", "must not be negative"})
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{"telemetry.logging.level", fmt.Sprintf("unknown level %q", cfg.Logging.Level)})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"telemetry.logging.format", fmt.Sprintf("unknown format %q", cfg.Logging.Format)})
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{"telemetry.metrics.path", "must start with /"})
	}
	switch cfg.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{"telemetry.tracing.sampler", fmt.Sprintf("unknown sampler %q", cfg.Tracing.Sampler)})
	}
	errs = append(errs, validateRate("telemetry.tracing.sample_ratio", cfg.Tracing.SampleRatio)...)
	return errs
}
