package history

import (
	"context"
	"sort"
	"sync"

	"clipsave/internal/autosave"
)

// Store persists history events. Recent returns newest first.
type Store interface {
	Insert(ctx context.Context, e autosave.Event) error
	Recent(ctx context.Context, limit int) ([]autosave.Event, error)
	// Trim deletes all but the newest keep events.
	Trim(ctx context.Context, keep int) error
	Clear(ctx context.Context) error
	Close() error
}

// MemoryStore keeps events in a slice.
type MemoryStore struct {
	mu     sync.Mutex
	events []autosave.Event
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, e autosave.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]autosave.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]autosave.Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		out = append(out, s.events[i])
	}
	// Events sharing a timestamp keep reverse insertion order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Trim(ctx context.Context, keep int) error {
	recent, _ := s.Recent(ctx, keep)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]autosave.Event, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		kept = append(kept, recent[i])
	}
	s.events = kept
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
