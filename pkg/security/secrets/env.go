package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates a provider reading prefix + the upper-cased name,
// with hyphens and dots turned into underscores.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// Variable returns the environment variable holding name.
func (p *EnvProvider) Variable(name string) string {
	return p.prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// Get implements Provider.
func (p *EnvProvider) Get(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(p.Variable(name))
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p.Variable(name))
	}
	return v, nil
}

// Name implements Provider.
func (p *EnvProvider) Name() string { return "env" }
