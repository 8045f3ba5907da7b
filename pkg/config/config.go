package config

import "time"

// Config is the root configuration structure for the governor.
type Config struct {
	// Server contains the operator HTTP API configuration.
	Server ServerConfig `yaml:"server"`

	// Storage selects and configures persistence.
	Storage StorageConfig `yaml:"storage"`

	// Engine contains condition evaluation settings.
	Engine EngineConfig `yaml:"engine"`

	// Rollout contains quality gates, rollback triggers and monitor cadence.
	Rollout RolloutConfig `yaml:"rollout"`

	// Executor contains action dispatch settings.
	Executor ExecutorConfig `yaml:"executor"`

	// Evidence contains audit evidence blob settings.
	Evidence EvidenceConfig `yaml:"evidence"`

	// Signing contains bundle export/import key material.
	Signing SigningConfig `yaml:"signing"`

	// Secrets configures ${secret:name} resolution in credential fields.
	Secrets SecretsConfig `yaml:"secrets"`

	// Inbox configures the directory watched for signed bundle exports.
	Inbox InboxConfig `yaml:"inbox"`

	// Git configures loading draft bundles from a git repository.
	Git GitConfig `yaml:"git"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the operator HTTP API.
type ServerConfig struct {
	// ListenAddress is the address to bind.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response. It must
	// exceed the executor timeout, since approvals execute synchronously.
	// Default: 90s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits request bodies.
	// Default: 1MB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Auth requires an operator API key on /v1 routes.
	Auth AuthConfig `yaml:"auth"`

	// TLS serves the API over HTTPS.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig configures HTTPS for the operator API. Certificate files are
// reloaded when they change on disk.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is "1.2" or "1.3".
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// ClientCAFile, when set, requires client certificates signed by this
	// CA. The certificate's common name then authenticates the actor.
	ClientCAFile string `yaml:"client_ca_file"`
}

// AuthConfig configures operator API keys. When enabled, the key's actor is
// the actor of every call made with it and X-Actor, if sent, must match.
// Client certificates are accepted as well when server.tls.client_ca_file is
// set.
type AuthConfig struct {
	Enabled bool `yaml:"enabled"`

	// Keys are the accepted operator keys. Only blake3 digests are stored;
	// `governor apikey create` prints one.
	Keys []OperatorKeyConfig `yaml:"keys"`
}

// OperatorKeyConfig is one operator API key.
type OperatorKeyConfig struct {
	Actor string `yaml:"actor"`

	// Hash is the hex blake3 digest of the key.
	Hash string `yaml:"hash"`

	Disabled bool `yaml:"disabled"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	// Default: "data/governor.db"
	Path string `yaml:"path"`

	// Driver is the database/sql driver name: "sqlite" (pure Go) or
	// "sqlite3" (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 1
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// EngineConfig contains condition evaluation settings.
type EngineConfig struct {
	// MaxConditionDepth bounds condition nesting at save time.
	// Default: 16
	MaxConditionDepth int `yaml:"max_condition_depth"`

	// DefaultScorer names the confidence scorer for policies without one.
	// Options: "match_ratio", "static"
	// Default: "match_ratio"
	DefaultScorer string `yaml:"default_scorer"`
}

// RolloutConfig contains quality gates, rollback triggers and the monitor.
type RolloutConfig struct {
	// Window is the length of the rolling outcome window.
	// Default: 1h
	Window time.Duration `yaml:"window"`

	// SoakTime is the minimum time a bundle spends in a stage before
	// promotion.
	// Default: 24h
	SoakTime time.Duration `yaml:"soak_time"`

	// Gates are checked before every promotion.
	Gates GateConfig `yaml:"gates"`

	// Triggers cause automatic rollback of live bundles.
	Triggers TriggerConfig `yaml:"triggers"`

	// MonitorEnabled runs the auto-rollback monitor.
	// Default: true
	MonitorEnabled *bool `yaml:"monitor_enabled"`

	// MonitorSchedule is the cron schedule of the monitor.
	// Default: "@every 1m"
	MonitorSchedule string `yaml:"monitor_schedule"`
}

// GateConfig contains promotion quality gates.
type GateConfig struct {
	// MinSampleSize is the minimum number of decisions in the window.
	// Default: 100
	MinSampleSize int `yaml:"min_sample_size"`

	// MaxErrorRate is the maximum execution failure rate.
	// Default: 0.05
	MaxErrorRate float64 `yaml:"max_error_rate"`

	// MaxDenyRate is the maximum rejection rate.
	// Default: 0.30
	MaxDenyRate float64 `yaml:"max_deny_rate"`

	// MaxCostDelta is the maximum relative cost increase over the active
	// bundle.
	// Default: 0.20
	MaxCostDelta float64 `yaml:"max_cost_delta"`
}

// TriggerConfig contains auto-rollback thresholds. A trigger fires when the
// rate strictly exceeds its threshold.
type TriggerConfig struct {
	// ErrorRate default: 0.10
	ErrorRate float64 `yaml:"error_rate"`

	// DenyRate default: 0.50
	DenyRate float64 `yaml:"deny_rate"`

	// CostDelta default: 0.50
	CostDelta float64 `yaml:"cost_delta"`

	// ZeroMatchRate default: 0.20
	ZeroMatchRate float64 `yaml:"zero_match_rate"`

	// MinSamples is the minimum denominator before any trigger may fire.
	// Default: 20
	MinSamples int `yaml:"min_samples"`
}

// ExecutorConfig contains action dispatch settings.
type ExecutorConfig struct {
	// Timeout bounds each execution attempt.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// IdempotencyRetention is how long completed keys are kept.
	// Default: 720h (30 days)
	IdempotencyRetention time.Duration `yaml:"idempotency_retention"`

	// PruneSchedule is the cron schedule of the idempotency pruner.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// Mailbox configures the HTTP mail provider bridge behind the archive,
	// label, quarantine and unsubscribe executors. Each operation is posted
	// to <url>/<action type>. Disabled when URL is empty.
	Mailbox WebhookConfig `yaml:"mailbox"`

	// Notify configures the built-in notify executor. Disabled when URL is
	// empty.
	Notify WebhookConfig `yaml:"notify"`

	// Webhook configures the built-in webhook executor. Disabled when URL is
	// empty.
	Webhook WebhookConfig `yaml:"webhook"`

	// RateLimits throttles executor attempts per action type so mail
	// provider quotas are respected. Action types without an entry are not
	// throttled.
	//
	// Example:
	//
	//	rate_limits:
	//	  archive: {rate: 5, burst: 20}
	//	  unsubscribe: {rate: 0.5, max_concurrent: 1}
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
}

// RateLimitConfig limits one action type.
type RateLimitConfig struct {
	// Rate is the sustained number of attempts per second. Zero disables
	// the rate limit.
	Rate float64 `yaml:"rate"`

	// Burst is how many attempts may start back to back.
	// Default: Rate rounded up, at least 1
	Burst int `yaml:"burst"`

	// MaxConcurrent bounds attempts in flight. Zero means unbounded.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// WebhookConfig configures an HTTP-posting executor.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// EvidenceConfig contains settings for audit evidence blobs.
type EvidenceConfig struct {
	// Compress stores blobs zstd-compressed.
	// Default: true
	Compress *bool `yaml:"compress"`

	// AgeRecipients are age public keys; when set, blobs are encrypted at
	// rest to these recipients.
	AgeRecipients []string `yaml:"age_recipients"`

	// AgeIdentityPath is the age identity file used to read encrypted blobs.
	AgeIdentityPath string `yaml:"age_identity_path"`

	// DefaultLimit bounds audit queries without an explicit limit.
	// Default: 100
	DefaultLimit int `yaml:"default_limit"`
}

// SigningConfig contains bundle signing keys.
type SigningConfig struct {
	// KeyID identifies this environment's signing key in exports.
	KeyID string `yaml:"key_id"`

	// SeedPath is a file holding the 32-byte ed25519 seed in hex.
	SeedPath string `yaml:"seed_path"`

	// TrustedKeys maps key IDs to hex-encoded ed25519 public keys accepted
	// on import.
	TrustedKeys map[string]string `yaml:"trusted_keys"`

	// MaxAge is the validity window of an export.
	// Default: 24h
	MaxAge time.Duration `yaml:"max_age"`

	// Encoding of exports: "json" or "cbor".
	// Default: "json"
	Encoding string `yaml:"encoding"`
}

// InboxConfig configures the signed-bundle inbox.
type InboxConfig struct {
	// Enabled starts the watcher with the server.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Directory is watched for *.json and *.cbor exports.
	// Default: "data/inbox"
	Directory string `yaml:"directory"`

	// AsNewVersion re-versions imports that collide with existing versions.
	// Default: false
	AsNewVersion bool `yaml:"as_new_version"`
}

// SecretsConfig configures where ${secret:name} references are looked up:
// the environment first, then Directory.
type SecretsConfig struct {
	// EnvPrefix namespaces secret environment variables.
	// Default: "GOVERNOR_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// Directory holds one file per secret.
	Directory string `yaml:"directory"`
}

// GitConfig configures git-based draft loading.
type GitConfig struct {
	// Repository URL (HTTPS or SSH).
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path of the bundle document inside the repository.
	// Default: "bundles/next.yaml"
	Path string `yaml:"path"`

	// Auth configures git authentication.
	Auth GitAuthConfig `yaml:"auth"`

	// Timeout bounds clone and pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// PollSchedule, when set, syncs on this cron schedule while the server
	// runs (e.g. "@every 5m").
	PollSchedule string `yaml:"poll_schedule"`

	// Depth for shallow clones (0 = full clone).
	// Default: 1
	Depth int `yaml:"depth"`

	// LocalPath where the repository is cloned.
	// Default: "data/git"
	LocalPath string `yaml:"local_path"`
}

// GitAuthConfig configures git authentication.
type GitAuthConfig struct {
	// Type: "token", "ssh" or "none".
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication.
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Health  HealthConfig  `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks email addresses and credentials in log attributes.
	// Default: false
	RedactPII bool `yaml:"redact_pii"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are recorded.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "governor"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: ""
	Subsystem string `yaml:"subsystem"`

	// EvaluationDurationBuckets defines histogram buckets (seconds).
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`

	// ExecutionDurationBuckets defines histogram buckets (seconds).
	ExecutionDurationBuckets []float64 `yaml:"execution_duration_buckets"`
}

// IsEnabled reports whether metrics are enabled; unset means enabled.
func (c *MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler: "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure *bool `yaml:"insecure"`

	// ServiceName is the service name in traces.
	// Default: "governor"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath default: "/healthz"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath default: "/readyz"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each readiness check.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// BoolValue dereferences an optional flag with a default.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
