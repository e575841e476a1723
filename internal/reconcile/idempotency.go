package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// messageRetention is how long a processed message id is remembered. The
// bridge retries within hours; a month leaves a wide margin.
const messageRetention = 30 * 24 * time.Hour

// RedisIdempotency records processed message ids in Redis with SETNX
// semantics so replay detection works across instances.
type RedisIdempotency struct {
	client *redis.Client
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client}
}

func (r *RedisIdempotency) FirstSeen(ctx context.Context, messageID string) (bool, error) {
	set, err := r.client.SetNX(ctx, "reconcile:message:"+messageID, 1, messageRetention).Result()
	if err != nil {
		return false, fmt.Errorf("record message id: %w", err)
	}
	return set, nil
}

// MemoryIdempotency is the in-process equivalent for tests and local runs.
type MemoryIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{seen: make(map[string]bool)}
}

func (m *MemoryIdempotency) FirstSeen(_ context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[messageID] {
		return false, nil
	}
	m.seen[messageID] = true
	return true, nil
}
