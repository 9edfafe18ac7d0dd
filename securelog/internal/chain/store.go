package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

// Store persists chain entries, one immutable record per index.
type Store interface {
	// Append persists e. The index must be exactly one past the last stored entry.
	Append(ctx context.Context, e *models.LogEntry) error

	// Get returns the entry at index or models.ErrNotFound.
	Get(ctx context.Context, index uint64) (*models.LogEntry, error)

	// Range returns entries with from <= index < to in ascending order.
	Range(ctx context.Context, from, to uint64) ([]*models.LogEntry, error)

	// Last returns the newest entry or models.ErrNotFound when empty.
	Last(ctx context.Context) (*models.LogEntry, error)

	Count(ctx context.Context) (uint64, error)

	Close() error
}

// MemoryStore keeps entries in a slice. It is used for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*models.LogEntry
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *models.LogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.ErrClosed
	}
	if e.Index != uint64(len(s.entries)) {
		return fmt.Errorf("non-contiguous append: have %d entries, got index %d", len(s.entries), e.Index)
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, index uint64) (*models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index >= uint64(len(s.entries)) {
		return nil, fmt.Errorf("chain entry %d: %w", index, models.ErrNotFound)
	}
	cp := *s.entries[index]
	return &cp, nil
}

func (s *MemoryStore) Range(_ context.Context, from, to uint64) ([]*models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := uint64(len(s.entries))
	if to > n {
		to = n
	}
	if from >= to {
		return nil, nil
	}
	out := make([]*models.LogEntry, 0, to-from)
	for _, e := range s.entries[from:to] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Last(_ context.Context) (*models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, fmt.Errorf("chain is empty: %w", models.ErrNotFound)
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}

func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
