package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GOVERNOR_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides named GOVERNOR_SECTION_FIELD (for example
// GOVERNOR_SERVER_LISTEN_ADDRESS). Environment variables take precedence over
// the file. An empty path starts from defaults.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		if cfg, err = LoadConfig(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid after environment overrides: %w", err)
	}
	return cfg, nil
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}

// applyEnvOverrides applies GOVERNOR_SECTION_FIELD overrides.
func applyEnvOverrides(cfg *Config) {
	// Server
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envBool("SERVER_AUTH_ENABLED", &cfg.Server.Auth.Enabled)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)
	envString("SERVER_TLS_CLIENT_CA_FILE", &cfg.Server.TLS.ClientCAFile)

	// Storage
	envString("STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	envDuration("STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Storage.SQLite.BusyTimeout)

	// Engine
	envInt("ENGINE_MAX_CONDITION_DEPTH", &cfg.Engine.MaxConditionDepth)
	envString("ENGINE_DEFAULT_SCORER", &cfg.Engine.DefaultScorer)

	// Rollout
	envDuration("ROLLOUT_WINDOW", &cfg.Rollout.Window)
	envDuration("ROLLOUT_SOAK_TIME", &cfg.Rollout.SoakTime)
	envInt("ROLLOUT_GATES_MIN_SAMPLE_SIZE", &cfg.Rollout.Gates.MinSampleSize)
	envFloat("ROLLOUT_GATES_MAX_ERROR_RATE", &cfg.Rollout.Gates.MaxErrorRate)
	envFloat("ROLLOUT_GATES_MAX_DENY_RATE", &cfg.Rollout.Gates.MaxDenyRate)
	envFloat("ROLLOUT_GATES_MAX_COST_DELTA", &cfg.Rollout.Gates.MaxCostDelta)
	envFloat("ROLLOUT_TRIGGERS_ERROR_RATE", &cfg.Rollout.Triggers.ErrorRate)
	envFloat("ROLLOUT_TRIGGERS_DENY_RATE", &cfg.Rollout.Triggers.DenyRate)
	envFloat("ROLLOUT_TRIGGERS_COST_DELTA", &cfg.Rollout.Triggers.CostDelta)
	envFloat("ROLLOUT_TRIGGERS_ZERO_MATCH_RATE", &cfg.Rollout.Triggers.ZeroMatchRate)
	envInt("ROLLOUT_TRIGGERS_MIN_SAMPLES", &cfg.Rollout.Triggers.MinSamples)
	envBoolPtr("ROLLOUT_MONITOR_ENABLED", &cfg.Rollout.MonitorEnabled)
	envString("ROLLOUT_MONITOR_SCHEDULE", &cfg.Rollout.MonitorSchedule)

	// Executor
	envDuration("EXECUTOR_TIMEOUT", &cfg.Executor.Timeout)
	envDuration("EXECUTOR_IDEMPOTENCY_RETENTION", &cfg.Executor.IdempotencyRetention)
	envString("EXECUTOR_PRUNE_SCHEDULE", &cfg.Executor.PruneSchedule)
	envString("EXECUTOR_MAILBOX_URL", &cfg.Executor.Mailbox.URL)
	envString("EXECUTOR_NOTIFY_URL", &cfg.Executor.Notify.URL)
	envString("EXECUTOR_WEBHOOK_URL", &cfg.Executor.Webhook.URL)

	// Evidence
	envBoolPtr("EVIDENCE_COMPRESS", &cfg.Evidence.Compress)
	envString("EVIDENCE_AGE_IDENTITY_PATH", &cfg.Evidence.AgeIdentityPath)
	if val := os.Getenv(EnvPrefix + "EVIDENCE_AGE_RECIPIENTS"); val != "" {
		cfg.Evidence.AgeRecipients = splitList(val)
	}

	// Signing
	envString("SIGNING_KEY_ID", &cfg.Signing.KeyID)
	envString("SIGNING_SEED_PATH", &cfg.Signing.SeedPath)
	envDuration("SIGNING_MAX_AGE", &cfg.Signing.MaxAge)
	envString("SIGNING_ENCODING", &cfg.Signing.Encoding)

	// Inbox
	envBool("INBOX_ENABLED", &cfg.Inbox.Enabled)
	envString("INBOX_DIRECTORY", &cfg.Inbox.Directory)
	envBool("INBOX_AS_NEW_VERSION", &cfg.Inbox.AsNewVersion)

	// Git
	envString("SECRETS_DIRECTORY", &cfg.Secrets.Directory)

	envString("GIT_REPOSITORY", &cfg.Git.Repository)
	envString("GIT_BRANCH", &cfg.Git.Branch)
	envString("GIT_PATH", &cfg.Git.Path)
	envString("GIT_AUTH_TYPE", &cfg.Git.Auth.Type)
	envString("GIT_AUTH_TOKEN", &cfg.Git.Auth.Token)
	envString("GIT_AUTH_SSH_KEY_PATH", &cfg.Git.Auth.SSHKeyPath)
	envString("GIT_POLL_SCHEDULE", &cfg.Git.PollSchedule)

	// Telemetry
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
