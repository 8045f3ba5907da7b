package registry

import (
	"context"
	"sync"

	"jobmail-hq/governor/pkg/policy"
)

// Store persists bundles. SaveBundles writes all given bundles atomically;
// the registry passes every bundle a transition touches in one call.
type Store interface {
	LoadBundles(ctx context.Context) ([]*policy.Bundle, error)
	SaveBundles(ctx context.Context, bundles ...*policy.Bundle) error
}

// MemoryStore keeps bundles in a map.
type MemoryStore struct {
	mu      sync.Mutex
	bundles map[string]*policy.Bundle
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bundles: make(map[string]*policy.Bundle)}
}

// LoadBundles returns copies of all bundles, ordered by version.
func (s *MemoryStore) LoadBundles(context.Context) ([]*policy.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*policy.Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		out = append(out, b.Clone())
	}
	sortBundles(out)
	return out, nil
}

// SaveBundles stores copies of bundles.
func (s *MemoryStore) SaveBundles(_ context.Context, bundles ...*policy.Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bundles {
		s.bundles[b.Version] = b.Clone()
	}
	return nil
}
