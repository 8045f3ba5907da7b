package evidence

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStorage implements Storage in memory. Records are kept in append
// order; it backs tests and the "memory" storage backend.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*AuditRecord
	byID    map[string]int
	closed  bool
}

// NewMemoryStorage creates a new in-memory audit store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{byID: make(map[string]int)}
}

// Append stores a copy of record.
func (s *MemoryStorage) Append(ctx context.Context, record *AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("memory", "append", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewStorageError("memory", "append", fmt.Errorf("storage closed"))
	}
	if _, exists := s.byID[record.ID]; exists {
		return NewStorageError("memory", "append", fmt.Errorf("record %s: %w", record.ID, ErrAppendOnly))
	}
	s.byID[record.ID] = len(s.records)
	s.records = append(s.records, record.Clone())
	return nil
}

// Get returns a copy of the record with the given ID.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrRecordNotFound)
	}
	return s.records[i].Clone(), nil
}

// matching returns copies of the records matching q, sorted and paginated.
// Caller holds the read lock.
func (s *MemoryStorage) matching(q *Query) []*AuditRecord {
	results := make([]*AuditRecord, 0)
	for _, r := range s.records {
		if q.Matches(r) {
			results = append(results, r.Clone())
		}
	}

	slices.SortStableFunc(results, func(a, b *AuditRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if q != nil && q.SortOrder == "desc" {
		slices.Reverse(results)
	}

	if q == nil {
		return results
	}
	if q.Offset >= len(results) {
		return []*AuditRecord{}
	}
	results = results[q.Offset:]
	if q.Limit > 0 && q.Limit < len(results) {
		results = results[:q.Limit]
	}
	return results
}

// Query retrieves audit records matching the query filters.
func (s *MemoryStorage) Query(ctx context.Context, q *Query) ([]*AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("memory", "query", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matching(q), nil
}

// QueryStream streams the result of Query over a channel.
func (s *MemoryStorage) QueryStream(ctx context.Context, q *Query) (<-chan *AuditRecord, <-chan error, error) {
	s.mu.RLock()
	results := s.matching(q)
	s.mu.RUnlock()

	recordsCh := make(chan *AuditRecord, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		for _, r := range results {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- r:
			}
		}
	}()

	return recordsCh, errCh, nil
}

// Count returns the number of records matching the query filters.
func (s *MemoryStorage) Count(ctx context.Context, q *Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, r := range s.records {
		if q.Matches(r) {
			count++
		}
	}
	return count, nil
}

// Close marks the store closed; further appends fail.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
