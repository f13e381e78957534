package triage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps items in process memory. It is used by tests and by
// one-shot CLI runs without a database.
type MemoryStore struct {
	mu    sync.Mutex
	seq   int64
	order []string
	items map[string]*Item
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item)}
}

func (s *MemoryStore) Insert(_ context.Context, it *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[it.ID]; ok {
		return fmt.Errorf("duplicate triage item %s", it.ID)
	}
	s.seq++
	stored := it.clone()
	stored.seq = s.seq
	it.seq = s.seq
	s.items[it.ID] = stored
	s.order = append(s.order, it.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Item
	for _, id := range s.order {
		it := s.items[id]
		if f.matches(it) {
			out = append(out, it.clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, id, reviewer string, at time.Time) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch it.Status {
	case StatusResolved:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	case StatusInReview:
		if it.ReviewerClaim != reviewer {
			return nil, fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, id, it.ReviewerClaim)
		}
		return it.clone(), nil
	}

	it.Status = StatusInReview
	it.ReviewerClaim = reviewer
	it.ClaimedAt = at
	return it.clone(), nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string, d ExpertDecision, at time.Time) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch {
	case it.Status == StatusResolved:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	case it.Status == StatusInReview && it.ReviewerClaim != d.Reviewer:
		return nil, fmt.Errorf("%w: %s held by %s", ErrAlreadyClaimed, id, it.ReviewerClaim)
	}

	it.Status = StatusResolved
	it.Expert = &d
	it.ResolvedAt = at
	return it.clone(), nil
}

func (s *MemoryStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := newStats()
	for _, it := range s.items {
		stats.add(it.Status, it.Priority, 1)
	}
	return stats, nil
}

func (s *MemoryStore) Close() error { return nil }
