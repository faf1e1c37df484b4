package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"consentledger/internal/sentinel"
)

const submissionKeyPrefix = "consentledger:submission:"

// Redis is an IdempotencyStore shared between server replicas.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis stores entries as JSON under a prefixed key with the given TTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) Get(ctx context.Context, correlationID string) (*Entry, error) {
	raw, err := s.client.Get(ctx, submissionKeyPrefix+correlationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission entry: %w", errors.Join(err, sentinel.ErrUnavailable))
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode submission entry: %w", err)
	}
	return &entry, nil
}

func (s *Redis) Put(ctx context.Context, entry *Entry) error {
	cp := *entry
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.ExpiresAt = now.Add(s.ttl)
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode submission entry: %w", err)
	}
	if err := s.client.Set(ctx, submissionKeyPrefix+cp.CorrelationID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("put submission entry: %w", errors.Join(err, sentinel.ErrUnavailable))
	}
	return nil
}
