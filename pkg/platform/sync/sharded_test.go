package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() {
			m.Lock("consent-1")
			defer m.Unlock("consent-1")
			counter++
		})
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_LockContextHonoursCancellation(t *testing.T) {
	m := NewShardedMutex()
	m.Lock("consent-1")
	defer m.Unlock("consent-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.LockContext(ctx, "consent-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShardedMutex_TryLock(t *testing.T) {
	m := NewShardedMutex(WithShards(1))
	require.True(t, m.TryLock("a"))
	assert.False(t, m.TryLock("b"), "single shard is shared by every key")
	m.Unlock("a")
	assert.True(t, m.TryLock("b"))
	m.Unlock("b")
}

func TestShardedMutex_UnlockUnheldPanics(t *testing.T) {
	m := NewShardedMutex()
	assert.Panics(t, func() { m.Unlock("never-locked") })
}

func TestShardedMutex_ShardDistribution(t *testing.T) {
	m := NewShardedMutex()

	shards := make(map[int]bool)
	keys := []string{"consent-123", "consent-456", "signer-abc", "signer-xyz", "tx-1", "tx-2"}
	for _, key := range keys {
		shards[m.shardFor(key)] = true
	}

	assert.GreaterOrEqual(t, len(shards), 3, "expected keys to distribute across multiple shards")
}

func TestHashString(t *testing.T) {
	assert.Equal(t, hashString("test"), hashString("test"))
	assert.NotEqual(t, hashString("test1"), hashString("test2"))
	assert.Equal(t, uint32(0), hashString(""))
}
