package config

import (
	"math"
	"time"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 90 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = int64(1 << 20)
	DefaultTLSMinVersion   = "1.3"

	// Secrets defaults
	DefaultSecretsEnvPrefix = "GOVERNOR_SECRET_"

	// Storage defaults
	DefaultStorageBackend     = "sqlite"
	DefaultSQLitePath         = "data/governor.db"
	DefaultSQLiteDriver       = "sqlite"
	DefaultSQLiteMaxOpenConns = 1
	DefaultSQLiteWALMode      = true
	DefaultSQLiteBusyTimeout  = 5 * time.Second
	DefaultMaxConditionDepth  = 16
	DefaultScorer             = "match_ratio"

	// Rollout defaults
	DefaultRolloutWindow          = time.Hour
	DefaultRolloutSoakTime        = 24 * time.Hour
	DefaultGateMinSampleSize      = 100
	DefaultGateMaxErrorRate       = 0.05
	DefaultGateMaxDenyRate        = 0.30
	DefaultGateMaxCostDelta       = 0.20
	DefaultTriggerErrorRate       = 0.10
	DefaultTriggerDenyRate        = 0.50
	DefaultTriggerCostDelta       = 0.50
	DefaultTriggerZeroMatchRate   = 0.20
	DefaultTriggerMinSamples      = 20
	DefaultRolloutMonitorSchedule = "@every 1m"

	// Executor defaults
	DefaultExecutorTimeout      = 30 * time.Second
	DefaultIdempotencyRetention = 30 * 24 * time.Hour
	DefaultPruneSchedule        = "0 3 * * *"

	// Evidence defaults
	DefaultEvidenceLimit = 100

	// Signing defaults
	DefaultSigningMaxAge   = 24 * time.Hour
	DefaultSigningEncoding = "json"

	// Inbox defaults
	DefaultInboxDirectory = "data/inbox"

	// Git defaults
	DefaultGitBranch    = "main"
	DefaultGitPath      = "bundles/next.yaml"
	DefaultGitAuthType  = "none"
	DefaultGitTimeout   = 30 * time.Second
	DefaultGitDepth     = 1
	DefaultGitLocalPath = "data/git"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "governor"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "governor"
	DefaultLivenessPath       = "/healthz"
	DefaultReadinessPath      = "/readyz"
	DefaultHealthCheckTimeout = 5 * time.Second
)

// ApplyDefaults fills every unset field of cfg with its default value.
// Fields that are already set are left untouched.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.Driver == "" {
		cfg.Storage.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Storage.SQLite.MaxOpenConns == 0 {
		cfg.Storage.SQLite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if !cfg.Storage.SQLite.WALMode {
		cfg.Storage.SQLite.WALMode = DefaultSQLiteWALMode
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// Engine defaults
	if cfg.Engine.MaxConditionDepth == 0 {
		cfg.Engine.MaxConditionDepth = DefaultMaxConditionDepth
	}
	if cfg.Engine.DefaultScorer == "" {
		cfg.Engine.DefaultScorer = DefaultScorer
	}

	applyRolloutDefaults(&cfg.Rollout)

	// Executor defaults
	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = DefaultExecutorTimeout
	}
	if cfg.Executor.IdempotencyRetention == 0 {
		cfg.Executor.IdempotencyRetention = DefaultIdempotencyRetention
	}
	if cfg.Executor.PruneSchedule == "" {
		cfg.Executor.PruneSchedule = DefaultPruneSchedule
	}
	for actionType, rl := range cfg.Executor.RateLimits {
		if rl.Rate > 0 && rl.Burst == 0 {
			rl.Burst = max(1, int(math.Ceil(rl.Rate)))
			cfg.Executor.RateLimits[actionType] = rl
		}
	}

	// Evidence defaults
	if cfg.Evidence.Compress == nil {
		compress := true
		cfg.Evidence.Compress = &compress
	}
	if cfg.Evidence.DefaultLimit == 0 {
		cfg.Evidence.DefaultLimit = DefaultEvidenceLimit
	}

	// Signing defaults
	if cfg.Signing.MaxAge == 0 {
		cfg.Signing.MaxAge = DefaultSigningMaxAge
	}
	if cfg.Signing.Encoding == "" {
		cfg.Signing.Encoding = DefaultSigningEncoding
	}

	// Inbox defaults
	if cfg.Inbox.Directory == "" {
		cfg.Inbox.Directory = DefaultInboxDirectory
	}

	// Git defaults
	if cfg.Git.Branch == "" {
		cfg.Git.Branch = DefaultGitBranch
	}
	if cfg.Git.Path == "" {
		cfg.Git.Path = DefaultGitPath
	}
	if cfg.Git.Auth.Type == "" {
		cfg.Git.Auth.Type = DefaultGitAuthType
	}
	if cfg.Git.Timeout == 0 {
		cfg.Git.Timeout = DefaultGitTimeout
	}
	if cfg.Git.Depth == 0 {
		cfg.Git.Depth = DefaultGitDepth
	}
	if cfg.Git.LocalPath == "" {
		cfg.Git.LocalPath = DefaultGitLocalPath
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyRolloutDefaults(cfg *RolloutConfig) {
	if cfg.Window == 0 {
		cfg.Window = DefaultRolloutWindow
	}
	if cfg.SoakTime == 0 {
		cfg.SoakTime = DefaultRolloutSoakTime
	}
	if cfg.Gates.MinSampleSize == 0 {
		cfg.Gates.MinSampleSize = DefaultGateMinSampleSize
	}
	if cfg.Gates.MaxErrorRate == 0 {
		cfg.Gates.MaxErrorRate = DefaultGateMaxErrorRate
	}
	if cfg.Gates.MaxDenyRate == 0 {
		cfg.Gates.MaxDenyRate = DefaultGateMaxDenyRate
	}
	if cfg.Gates.MaxCostDelta == 0 {
		cfg.Gates.MaxCostDelta = DefaultGateMaxCostDelta
	}
	if cfg.Triggers.ErrorRate == 0 {
		cfg.Triggers.ErrorRate = DefaultTriggerErrorRate
	}
	if cfg.Triggers.DenyRate == 0 {
		cfg.Triggers.DenyRate = DefaultTriggerDenyRate
	}
	if cfg.Triggers.CostDelta == 0 {
		cfg.Triggers.CostDelta = DefaultTriggerCostDelta
	}
	if cfg.Triggers.ZeroMatchRate == 0 {
		cfg.Triggers.ZeroMatchRate = DefaultTriggerZeroMatchRate
	}
	if cfg.Triggers.MinSamples == 0 {
		cfg.Triggers.MinSamples = DefaultTriggerMinSamples
	}
	if cfg.MonitorEnabled == nil {
		enabled := true
		cfg.MonitorEnabled = &enabled
	}
	if cfg.MonitorSchedule == "" {
		cfg.MonitorSchedule = DefaultRolloutMonitorSchedule
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.Insecure == nil {
		insecure := true
		cfg.Tracing.Insecure = &insecure
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
