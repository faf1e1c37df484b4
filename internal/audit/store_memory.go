package audit

import (
	"context"
	"slices"
	"sync"
)

// InMemoryStore keeps history per consent. Entries may arrive out of order
// from the async publisher, so reads sort by timestamp like the SQL store.
type InMemoryStore struct {
	mu        sync.RWMutex
	byConsent map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byConsent: make(map[string][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	s.byConsent[e.ConsentID] = append(s.byConsent[e.ConsentID], e)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) ListByConsent(_ context.Context, consentID string) ([]Event, error) {
	s.mu.RLock()
	history := slices.Clone(s.byConsent[consentID])
	s.mu.RUnlock()

	slices.SortStableFunc(history, func(a, b Event) int { return a.Timestamp.Compare(b.Timestamp) })
	if history == nil {
		history = []Event{}
	}
	return history, nil
}
