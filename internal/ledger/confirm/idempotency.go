package confirm

import (
	"context"
	"sync"
	"time"

	"consentledger/internal/sentinel"
)

// Entry records a submission under its correlation id. TxID is written as soon
// as the ledger accepts the transaction so a repeat never resubmits; Outcome is
// written once the submission reaches a terminal state. Intent is the digest
// of the submitted call; a repeat must carry the same one to be answered from
// this entry.
type Entry struct {
	CorrelationID string    `json:"correlation_id"`
	Kind          string    `json:"kind"`
	Intent        string    `json:"intent"`
	TxID          string    `json:"tx_id"`
	Fingerprint   string    `json:"fingerprint"`
	Outcome       *Outcome  `json:"outcome,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (e *Entry) clone() *Entry {
	cp := *e
	if e.Outcome != nil {
		o := *e.Outcome
		cp.Outcome = &o
	}
	return &cp
}

// IdempotencyStore persists submission entries.
// Get returns sentinel.ErrNotFound when no live entry exists.
type IdempotencyStore interface {
	Get(ctx context.Context, correlationID string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
}

// InMemory is a TTL-bounded IdempotencyStore for single-process deployments.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemory creates an in-memory store whose entries live for ttl.
func NewInMemory(ttl time.Duration) *InMemory {
	return &InMemory{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemory) Get(_ context.Context, correlationID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[correlationID]
	if !ok || s.now().After(entry.ExpiresAt) {
		return nil, sentinel.ErrNotFound
	}
	return entry.clone(), nil
}

func (s *InMemory) Put(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := entry.clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.ExpiresAt = s.now().Add(s.ttl)
	s.entries[entry.CorrelationID] = cp
	return nil
}

// Cleanup removes expired entries and returns how many were dropped.
func (s *InMemory) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// RunCleanup drops expired entries every interval until ctx ends.
func (s *InMemory) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
