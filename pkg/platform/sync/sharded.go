// Package sync provides keyed locking for per-record and per-identity serialization.
package sync

import (
	"context"
)

const defaultShards = 32

// ShardedMutex serializes work per key. Keys are hashed onto a fixed number of
// shards, so unrelated keys may share a shard; never hold two keys of the same
// ShardedMutex at once.
//
// Each shard is a one-slot channel rather than a sync.Mutex so a waiter can
// give up when its context ends.
type ShardedMutex struct {
	shards []chan struct{}
}

// Option configures a ShardedMutex.
type Option func(*ShardedMutex)

// WithShards overrides the shard count. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(m *ShardedMutex) {
		if n > 0 {
			m.shards = make([]chan struct{}, n)
		}
	}
}

// NewShardedMutex creates a ShardedMutex with 32 shards unless overridden.
func NewShardedMutex(opts ...Option) *ShardedMutex {
	m := &ShardedMutex{shards: make([]chan struct{}, defaultShards)}
	for _, opt := range opts {
		opt(m)
	}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock acquires the lock for the given key's shard.
// Empty keys default to shard 0.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)] <- struct{}{}
}

// LockContext acquires the key's shard or returns ctx.Err() if the context
// ends first.
func (m *ShardedMutex) LockContext(ctx context.Context, key string) error {
	select {
	case m.shards[m.shardFor(key)] <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the key's shard only if it is free.
func (m *ShardedMutex) TryLock(key string) bool {
	select {
	case m.shards[m.shardFor(key)] <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the lock for the given key's shard. Unlocking a shard that
// is not held panics, as with sync.Mutex.
func (m *ShardedMutex) Unlock(key string) {
	select {
	case <-m.shards[m.shardFor(key)]:
	default:
		panic("sync: unlock of unlocked shard")
	}
}

// shardFor returns the shard index for the given key.
func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % uint32(len(m.shards)))
}

// hashString is a djb2-style hash for shard selection.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
