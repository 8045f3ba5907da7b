package actions

import (
	"context"
	"slices"
	"sync"
	"time"

	"jobmail-hq/governor/pkg/policy"
)

// ListFilter selects proposed actions. Results are ordered by creation
// time, oldest first.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Transition describes one compare-and-swap status change. Decisions set
// DecidedAt/DecidedBy; execution results set ExecutedAt/Error.
type Transition struct {
	From  Status
	To    Status
	At    time.Time
	Actor string
	Error string
}

// Apply mutates a to reflect t.
func (t Transition) Apply(a *ProposedAction) {
	at := t.At
	a.Status = t.To
	switch t.From {
	case StatusPending:
		a.DecidedAt = &at
		a.DecidedBy = t.Actor
	case StatusApproved:
		a.ExecutedAt = &at
		a.Error = t.Error
	}
}

// Store persists proposed actions. Transition must be atomic: exactly one of
// several concurrent transitions from the same status succeeds, the others
// get *NotPendingError.
type Store interface {
	Create(ctx context.Context, action *ProposedAction) error
	Get(ctx context.Context, id string) (*ProposedAction, error)
	List(ctx context.Context, filter ListFilter) ([]*ProposedAction, error)
	Transition(ctx context.Context, id string, t Transition) (*ProposedAction, error)
}

// MemoryStore is a mutex-guarded Store.
type MemoryStore struct {
	mu      sync.Mutex
	actions map[string]*ProposedAction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*ProposedAction)}
}

// Create stores a copy of action.
func (s *MemoryStore) Create(_ context.Context, action *ProposedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; exists {
		return policy.NewValidationError(action.ID, "action already exists", nil)
	}
	s.actions[action.ID] = action.Clone()
	return nil
}

// Get returns a copy of the action.
func (s *MemoryStore) Get(_ context.Context, id string) (*ProposedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "action", ID: id}
	}
	return a.Clone(), nil
}

// List returns copies of the matching actions.
func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*ProposedAction, error) {
	s.mu.Lock()
	out := make([]*ProposedAction, 0)
	for _, a := range s.actions {
		if filter.Status == "" || a.Status == filter.Status {
			out = append(out, a.Clone())
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *ProposedAction) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})

	if filter.Offset >= len(out) {
		return []*ProposedAction{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition applies t when the action is in t.From.
func (s *MemoryStore) Transition(_ context.Context, id string, t Transition) (*ProposedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "action", ID: id}
	}
	if a.Status != t.From {
		return nil, &NotPendingError{ID: id, Status: a.Status, Expected: t.From}
	}
	t.Apply(a)
	return a.Clone(), nil
}
