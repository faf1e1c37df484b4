// Package store persists consent records.
//
// Error contract for every implementation:
//   - sentinel.ErrNotFound when the record does not exist
//   - sentinel.ErrConflict when Save finds the id already taken
//   - validate errors from Execute are returned unchanged
//   - wrapped errors for infrastructure failures
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"consentledger/internal/consent/models"
	"consentledger/internal/sentinel"
	id "consentledger/pkg/domain"
)

// InMemoryStore keeps records in a map for tests and the demo server.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.ConsentID]*models.Record
}

func New() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.ConsentID]*models.Record)}
}

func (s *InMemoryStore) Save(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return sentinel.ErrConflict
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, consentID id.ConsentID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[consentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns matching records, newest first.
func (s *InMemoryStore) List(_ context.Context, filter models.RecordFilter, now time.Time) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Record
	for _, rec := range s.records {
		if filter.Matches(rec, now) {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// Execute validates and mutates one record atomically. The stored record is
// untouched when validate fails.
func (s *InMemoryStore) Execute(_ context.Context, consentID id.ConsentID, validate func(*models.Record) error, mutate func(*models.Record)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[consentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := rec.Clone()
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.records[consentID] = working
	return working.Clone(), nil
}

func sortNewestFirst(records []*models.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID.String() < records[j].ID.String()
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
