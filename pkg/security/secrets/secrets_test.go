package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

func writeSecret(t *testing.T, dir, name, value string, perm os.FileMode) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value), perm); err != nil {
		t.Fatal(err)
	}
	// WriteFile honours the umask; set the mode explicitly.
	if err := os.Chmod(filepath.Join(dir, name), perm); err != nil {
		t.Fatal(err)
	}
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_SECRET_GIT_TOKEN", "ghp_123")
	p := NewEnvProvider("TEST_SECRET_")

	if got := p.Variable("git-token"); got != "TEST_SECRET_GIT_TOKEN" {
		t.Errorf("Variable() = %s", got)
	}
	v, err := p.Get(context.Background(), "git-token")
	if err != nil || v != "ghp_123" {
		t.Errorf("Get() = %q, %v", v, err)
	}
	if _, err := p.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "git-token", "ghp_file\n", 0o600)
	writeSecret(t, dir, "open", "x", 0o644)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatal(err)
	}

	p, err := NewFileProvider(dir)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name     string
		want     string
		notFound bool
		wantErr  bool
	}{
		{name: "git-token", want: "ghp_file"},
		{name: "missing", notFound: true},
		{name: "open", wantErr: true},
		{name: "nested", wantErr: true},
		{name: "../etc/passwd", wantErr: true},
		{name: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := p.Get(context.Background(), tt.name)
			switch {
			case tt.notFound:
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("error = %v, want ErrNotFound", err)
				}
			case tt.wantErr:
				if err == nil || errors.Is(err, ErrNotFound) {
					t.Errorf("error = %v, want a hard error", err)
				}
			default:
				if err != nil || v != tt.want {
					t.Errorf("Get() = %q, %v", v, err)
				}
			}
		})
	}

	if _, err := NewFileProvider(filepath.Join(dir, "git-token")); err == nil {
		t.Error("NewFileProvider() accepted a file")
	}
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "notify-token", "from-file", 0o400)
	writeSecret(t, dir, "shared", "file-loses", 0o600)
	t.Setenv("TEST_SECRET_SHARED", "env-wins")

	fp, err := NewFileProvider(dir)
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(logging.Discard(), NewEnvProvider("TEST_SECRET_"), fp)
	ctx := context.Background()

	got, err := r.Resolve(ctx, "Bearer ${secret:notify-token} ${secret:shared}")
	if err != nil || got != "Bearer from-file env-wins" {
		t.Errorf("Resolve() = %q, %v", got, err)
	}

	got, err = r.Resolve(ctx, "plain value")
	if err != nil || got != "plain value" {
		t.Errorf("Resolve(plain) = %q, %v", got, err)
	}

	got, err = r.Resolve(ctx, "${secret:nope}-${secret:shared}")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve(missing) error = %v", err)
	}
	if got != "${secret:nope}-env-wins" {
		t.Errorf("unresolved reference rewritten: %q", got)
	}
}

func TestResolveConfig(t *testing.T) {
	t.Setenv("TEST_SECRET_GIT_TOKEN", "ghp_abc")
	t.Setenv("TEST_SECRET_HOOK", "s3cret")
	r, err := NewResolverFromConfig(config.SecretsConfig{EnvPrefix: "TEST_SECRET_"}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Git.Auth.Token = "${secret:git-token}"
	cfg.Executor.Notify = config.WebhookConfig{
		URL:     "https://hooks.example.com/${secret:hook}",
		Headers: map[string]string{"Authorization": "Bearer ${secret:hook}", "X-Team": "mail"},
	}
	if err := ResolveConfig(context.Background(), r, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Git.Auth.Token != "ghp_abc" {
		t.Errorf("git token = %q", cfg.Git.Auth.Token)
	}
	if cfg.Executor.Notify.URL != "https://hooks.example.com/s3cret" ||
		cfg.Executor.Notify.Headers["Authorization"] != "Bearer s3cret" ||
		cfg.Executor.Notify.Headers["X-Team"] != "mail" {
		t.Errorf("notify = %+v", cfg.Executor.Notify)
	}

	cfg.Executor.Webhook.Headers = map[string]string{"X-Key": "${secret:absent}"}
	cfg.Git.Auth.SSHKeyPassphrase = "${secret:also-absent}"
	err = ResolveConfig(context.Background(), r, cfg)
	if err == nil {
		t.Fatal("ResolveConfig() succeeded with missing secrets")
	}
	for _, field := range []string{"executor.webhook.headers.X-Key", "git.auth.ssh_key_passphrase"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name %s", err, field)
		}
	}
}
