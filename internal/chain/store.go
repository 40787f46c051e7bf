package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store keeps the per-chain head register and the record log.
//
// Append is the only way a head moves: it must compare the chain's current
// head with expected and, only if they are equal, insert rec and advance the
// head to {rec.Hash, expected.Length+1} as one atomic step. A mismatch is
// reported as a *ConflictError carrying the actual head.
//
// Amend loads a record, passes it to fn and persists only Current,
// EditCount and EditedAt. An error from fn aborts the amendment and is
// returned unchanged. Hash, PreviousHash and Content are never written.
type Store interface {
	Head(ctx context.Context, chain string) (Head, error)
	Append(ctx context.Context, rec *Record, expected Head) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, chain string) ([]Record, error)
	Chains(ctx context.Context) ([]ChainHead, error)
	Amend(ctx context.Context, id string, fn func(*Record) error) (*Record, error)
}

// checkLink rejects a record that was not built against expected.
func checkLink(rec *Record, expected Head) error {
	if rec.Chain == "" {
		return fmt.Errorf("append record %s: empty chain key", rec.ID)
	}
	if rec.PreviousHash != expected.Hash || rec.Position != expected.Length {
		return fmt.Errorf("append record %s: built against %s@%d, not expected head %s@%d",
			rec.ID, rec.PreviousHash, rec.Position, expected.Hash, expected.Length)
	}
	return nil
}

// MemoryStore is an in-memory, thread-safe Store. Records are copied on the
// way in and out so callers cannot mutate stored history.
type MemoryStore struct {
	mu     sync.RWMutex
	heads  map[string]Head
	chains map[string][]*Record
	byID   map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		heads:  make(map[string]Head),
		chains: make(map[string][]*Record),
		byID:   make(map[string]*Record),
	}
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context, chain string) (Head, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.heads[chain]; ok {
		return h, nil
	}
	return GenesisHead, nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec *Record, expected Head) error {
	if err := checkLink(rec, expected); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	actual, ok := s.heads[rec.Chain]
	if !ok {
		actual = GenesisHead
	}
	if actual != expected {
		return &ConflictError{Chain: rec.Chain, Expected: expected, Actual: actual}
	}
	if _, dup := s.byID[rec.ID]; dup {
		return fmt.Errorf("append record %s: duplicate id", rec.ID)
	}

	stored := rec.clone()
	s.chains[rec.Chain] = append(s.chains[rec.Chain], stored)
	s.byID[rec.ID] = stored
	s.heads[rec.Chain] = Head{Hash: rec.Hash, Length: expected.Length + 1}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("get record %s: %w", id, ErrRecordNotFound)
	}
	return rec.clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, chain string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.chains[chain]))
	for _, rec := range s.chains[chain] {
		out = append(out, *rec.clone())
	}
	return out, nil
}

// Chains implements Store.
func (s *MemoryStore) Chains(_ context.Context) ([]ChainHead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChainHead, 0, len(s.heads))
	for chain, h := range s.heads {
		out = append(out, ChainHead{Chain: chain, Head: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out, nil
}

// Amend implements Store.
func (s *MemoryStore) Amend(_ context.Context, id string, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("amend record %s: %w", id, ErrRecordNotFound)
	}
	work := stored.clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	stored.Current = work.Current
	stored.EditCount = work.EditCount
	stored.EditedAt = work.EditedAt
	return stored.clone(), nil
}
