package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"jobmail-hq/governor/pkg/config"
)

// NewResolverFromConfig builds the environment provider and, when a
// directory is configured, the file provider after it.
func NewResolverFromConfig(cfg config.SecretsConfig, logger *slog.Logger) (*Resolver, error) {
	providers := []Provider{NewEnvProvider(cfg.EnvPrefix)}
	if cfg.Directory != "" {
		fp, err := NewFileProvider(cfg.Directory)
		if err != nil {
			return nil, err
		}
		providers = append(providers, fp)
	}
	return NewResolver(logger, providers...), nil
}

// ResolveConfig resolves the references in the credential fields of cfg in
// place: the git token and SSH passphrase, and the URL and headers of each
// executor webhook.
func ResolveConfig(ctx context.Context, r *Resolver, cfg *config.Config) error {
	fields := map[string]*string{
		"git.auth.token":              &cfg.Git.Auth.Token,
		"git.auth.ssh_key_passphrase": &cfg.Git.Auth.SSHKeyPassphrase,
	}
	hooks := map[string]*config.WebhookConfig{
		"executor.mailbox": &cfg.Executor.Mailbox,
		"executor.notify":  &cfg.Executor.Notify,
		"executor.webhook": &cfg.Executor.Webhook,
	}
	var errs []error
	for name, hook := range hooks {
		fields[name+".url"] = &hook.URL
		for h, v := range hook.Headers {
			if !HasReferences(v) {
				continue
			}
			resolved, err := r.Resolve(ctx, v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s.headers.%s: %w", name, h, err))
				continue
			}
			hook.Headers[h] = resolved
		}
	}
	for name, dst := range fields {
		if !HasReferences(*dst) {
			continue
		}
		v, err := r.Resolve(ctx, *dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*dst = v
	}
	return errors.Join(errs...)
}
