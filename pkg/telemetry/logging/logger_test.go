package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"jobmail-hq/governor/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"text debug", Config{Level: "debug", Format: "text"}, false},
		{"upper case level", Config{Level: "WARN"}, false},
		{"bad level", Config{Level: "verbose"}, true},
		{"bad format", Config{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Writer = &bytes.Buffer{}
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Fatal("expected logger")
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn record missing")
	}
}

func TestNew_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	ctx := WithActor(context.Background(), "alice")
	ctx = WithActionID(ctx, "act-42")
	logger.With("component", "actions").InfoContext(ctx, "action approved")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON output %q: %v", buf.String(), err)
	}
	if record["actor"] != "alice" || record["action_id"] != "act-42" {
		t.Errorf("context fields missing: %v", record)
	}
	if record["component"] != "actions" {
		t.Errorf("component = %v", record["component"])
	}
}

func TestNew_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf, RedactPII: true})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info("resource evaluated", "resource_id", "recruiter@example.com", "webhook_token", "s3cr3t-value")

	out := buf.String()
	if strings.Contains(out, "recruiter@example.com") {
		t.Errorf("email not redacted: %s", out)
	}
	if !strings.Contains(out, "r***@example.com") {
		t.Errorf("redacted email missing: %s", out)
	}
	if strings.Contains(out, "s3cr3t-value") {
		t.Errorf("token not redacted: %s", out)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "debug", Format: "text", RedactPII: true})

	if cfg.Level != "debug" || cfg.Format != "text" || !cfg.RedactPII {
		t.Errorf("FromConfig() = %+v", cfg)
	}
}
