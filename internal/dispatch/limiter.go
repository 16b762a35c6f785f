package dispatch

import (
	"context"
	"sync"
	"time"

	"survey-caller/internal/calls"
	"survey-caller/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent calls per backend.
type Limiter interface {
	Acquire(ctx context.Context, b calls.Backend) (bool, error)
	Release(ctx context.Context, b calls.Backend) error
}

// MemoryLimiter is a process-local Limiter. limit <= 0 means unlimited.
type MemoryLimiter struct {
	mu    sync.Mutex
	limit int
	inUse map[calls.Backend]int
}

func NewMemoryLimiter(limit int) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, inUse: map[calls.Backend]int{}}
}

func (l *MemoryLimiter) Acquire(_ context.Context, b calls.Backend) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit > 0 && l.inUse[b] >= l.limit {
		return false, nil
	}
	l.inUse[b]++
	return true, nil
}

func (l *MemoryLimiter) Release(_ context.Context, b calls.Backend) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse[b] > 0 {
		l.inUse[b]--
	}
	return nil
}

// InUse reports the slots currently held for b.
func (l *MemoryLimiter) InUse(b calls.Backend) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse[b]
}

// RedisLimiter shares caps across instances. The counter TTL bounds how long a slot
// held by a crashed instance stays taken.
type RedisLimiter struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLimiter{rdb: rdb, limit: limit, ttl: ttl}
}

func (l *RedisLimiter) Acquire(ctx context.Context, b calls.Backend) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}
	return utils.AcquireSlot(ctx, l.rdb, slotKey(b), l.limit, l.ttl)
}

func (l *RedisLimiter) Release(ctx context.Context, b calls.Backend) error {
	if l.limit <= 0 {
		return nil
	}
	return utils.ReleaseSlot(ctx, l.rdb, slotKey(b))
}

func slotKey(b calls.Backend) string { return "survey:slots:" + string(b) }
