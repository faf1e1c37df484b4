//go:build integration

// Package containers starts the backing services integration tests run
// against. Each service is started once per test binary and shared; Ryuk
// reaps the containers when the process exits.
package containers

import (
	"sync"
	"testing"
)

// lazy starts a fixture the first time a test asks for it. A failed start
// is not cached, so the next caller retries and reports its own failure.
type lazy[T any] struct {
	mu    sync.Mutex
	value *T
}

func (l *lazy[T]) get(t *testing.T, start func(*testing.T) *T) *T {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.value == nil {
		l.value = start(t)
	}
	return l.value
}

// Manager hands out the shared fixtures.
type Manager struct {
	postgres lazy[PostgresContainer]
	redis    lazy[RedisContainer]
	kafka    lazy[KafkaContainer]
}

var shared Manager

// GetManager returns the process-wide fixture set.
func GetManager() *Manager { return &shared }

// GetPostgres returns a migrated Postgres with the consent schema.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return m.postgres.get(t, NewPostgresContainer)
}

// GetRedis returns the Redis that backs the idempotency cache in tests.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return m.redis.get(t, NewRedisContainer)
}

// GetKafka returns a Redpanda broker for the notification sink.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return m.kafka.get(t, NewKafkaContainer)
}
