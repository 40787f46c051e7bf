package audit

import (
	"context"
	"sort"
	"sync"
)

// MemorySink keeps entries in process memory. It is safe for concurrent use
// and is mainly useful for tests and single-process deployments.
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

// Entries returns a copy of everything written so far, in write order.
func (s *MemorySink) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries written.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Group implements Querier.
func (s *MemorySink) Group(_ context.Context, correlationID string) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := &Group{CorrelationID: correlationID, Entries: []Entry{}}
	for _, e := range s.entries {
		if e.CorrelationID == correlationID {
			g.Entries = append(g.Entries, e)
		}
	}
	sort.SliceStable(g.Entries, func(i, j int) bool {
		return g.Entries[i].Timestamp.Before(g.Entries[j].Timestamp)
	})
	return g, nil
}

// MultiSink writes each entry to every sink in order and stops at the first
// failure. Sinks before the failing one keep the entry.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, e *Entry) error {
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
