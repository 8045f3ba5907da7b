package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

var refPattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Resolver looks secrets up through a chain of providers.
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver asks providers in order.
func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{providers: providers, logger: logger.With("component", "secrets")}
}

// Get returns the first value any provider has for name.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	for _, p := range r.providers {
		v, err := p.Get(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("secret %q from %s: %w", name, p.Name(), err)
		}
		r.logger.Debug("secret resolved", "name", name, "provider", p.Name())
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// HasReferences reports whether s contains a ${secret:name} reference.
func HasReferences(s string) bool {
	return refPattern.MatchString(s)
}

// Resolve replaces every ${secret:name} in s. All failing references are
// reported together.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	var errs []error
	out := refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := refPattern.FindStringSubmatch(ref)[1]
		v, err := r.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return v
	})
	return out, errors.Join(errs...)
}
