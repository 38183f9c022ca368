package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/convoflow/internal/cache"
)

// counters is the storage behind the limiter.
type counters interface {
	// incr adds n to key, setting ttl when the key is created, and returns
	// the new value.
	incr(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)
	get(ctx context.Context, key string) (int64, error)
	del(ctx context.Context, key string) error
}

type redisCounters struct {
	m *cache.Manager
}

func (r redisCounters) incr(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	return r.m.IncrWithTTL(ctx, key, n, ttl)
}

func (r redisCounters) get(ctx context.Context, key string) (int64, error) {
	val, err := r.m.Get(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (r redisCounters) del(ctx context.Context, key string) error {
	return r.m.Delete(ctx, key)
}

type memoryEntry struct {
	value   int64
	expires time.Time
}

type memoryCounters struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func newMemoryCounters(now func() time.Time) *memoryCounters {
	return &memoryCounters{entries: make(map[string]*memoryEntry), now: now}
}

// live returns the unexpired entry at key. Callers hold mu.
func (m *memoryCounters) live(key string) *memoryEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *memoryCounters) incr(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.live(key)
	if e == nil {
		e = &memoryEntry{expires: m.now().Add(ttl)}
		m.entries[key] = e
	}
	e.value += n
	return e.value, nil
}

func (m *memoryCounters) get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.live(key); e != nil {
		return e.value, nil
	}
	return 0, nil
}

func (m *memoryCounters) del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
