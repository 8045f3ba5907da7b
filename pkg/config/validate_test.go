package config

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad listen address", func(c *Config) { c.Server.ListenAddress = "nope" }, "server.listen_address"},
		{"auth without keys", func(c *Config) { c.Server.Auth.Enabled = true }, "server.auth.keys"},
		{"short key hash", func(c *Config) {
			c.Server.Auth.Keys = []OperatorKeyConfig{{Actor: "alice", Hash: "abcd"}}
		}, "server.auth.keys[0].hash"},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }, "server.tls"},
		{"tls 1.1", func(c *Config) { c.Server.TLS.MinVersion = "1.1" }, "server.tls.min_version"},
		{"client ca without tls", func(c *Config) { c.Server.TLS.ClientCAFile = "/ca.pem" }, "server.tls.client_ca_file"},
		{"unknown driver", func(c *Config) { c.Storage.SQLite.Driver = "pgx" }, "storage.sqlite.driver"},
		{"unknown scorer", func(c *Config) { c.Engine.DefaultScorer = "oracle" }, "engine.default_scorer"},
		{"rate above one", func(c *Config) { c.Rollout.Gates.MaxDenyRate = 1.5 }, "rollout.gates.max_deny_rate"},
		{"bad monitor schedule", func(c *Config) { c.Rollout.MonitorSchedule = "every minute" }, "rollout.monitor_schedule"},
		{"zero min samples", func(c *Config) { c.Rollout.Triggers.MinSamples = 0 }, "rollout.triggers.min_samples"},
		{"bad prune schedule", func(c *Config) { c.Executor.PruneSchedule = "@sometimes" }, "executor.prune_schedule"},
		{"negative rate", func(c *Config) {
			c.Executor.RateLimits = map[string]RateLimitConfig{"archive": {Rate: -1}}
		}, "executor.rate_limits.archive"},
		{"empty rate limit", func(c *Config) {
			c.Executor.RateLimits = map[string]RateLimitConfig{"label": {Burst: 3}}
		}, "executor.rate_limits.label"},
		{"unknown encoding", func(c *Config) { c.Signing.Encoding = "xml" }, "signing.encoding"},
		{"seed without key id", func(c *Config) { c.Signing.SeedPath = "/seed" }, "signing.key_id"},
		{"token auth without token", func(c *Config) { c.Git.Auth.Type = "token" }, "git.auth.token"},
		{"unknown log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}

			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %s", verr.Errors, tt.wantField)
			}
		})
	}
}
