package secrets

import (
	"context"
	"errors"
)

// ErrNotFound means a provider has no secret of that name. The resolver
// then asks the next provider.
var ErrNotFound = errors.New("secret not found")

// Provider looks secrets up by name.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
	Name() string
}
