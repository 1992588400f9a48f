package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Store is a byte-oriented TTL cache. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is the in-process Store used when no Redis is configured.
type Memory struct {
	mu    sync.RWMutex
	items map[string]entry
	ttl   time.Duration
	now   func() time.Time
}

func New(ttl time.Duration) *Memory {
	return &Memory{items: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || c.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.data, true, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{data: append([]byte(nil), value...), expiresAt: c.now().Add(c.ttl)}
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (c *Memory) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// GetJSON decodes a cached value into T. A corrupt entry is reported as a miss.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, false
	}
	return v, true
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b)
}
