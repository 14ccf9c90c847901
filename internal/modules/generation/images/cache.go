package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	redisc "github.com/slidecraft/server/internal/pkg/redis"
)

// Entry is a cached image for a prompt.
type Entry struct {
	ImageURL   string `json:"image_url"`
	Model      string `json:"model,omitempty"`
	Simplified bool   `json:"simplified,omitempty"`
}

// Cache stores generated images keyed by prompt. Get returns nil on a miss.
type Cache interface {
	Get(ctx context.Context, prompt string) (*Entry, error)
	Set(ctx context.Context, prompt string, e Entry) error
	// Sweep drops expired entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

type memoryItem struct {
	entry    Entry
	storedAt time.Time
}

// MemoryCache is a process-local cache with timestamp expiry.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, prompt string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[prompt]
	if !ok {
		return nil, nil
	}
	if c.expired(item) {
		delete(c.items, prompt)
		return nil, nil
	}
	e := item.entry
	return &e, nil
}

func (c *MemoryCache) Set(_ context.Context, prompt string, e Entry) error {
	c.mu.Lock()
	c.items[prompt] = memoryItem{entry: e, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Sweep(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, item := range c.items {
		if c.expired(item) {
			delete(c.items, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) expired(item memoryItem) bool {
	return c.ttl > 0 && c.now().Sub(item.storedAt) > c.ttl
}

// RedisCache shares images between instances. Expiry is left to Redis.
type RedisCache struct {
	rc  *redisc.Client
	ttl time.Duration
}

func NewRedisCache(rc *redisc.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rc: rc, ttl: ttl}
}

func imageKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return redisc.Key("image", hex.EncodeToString(sum[:]))
}

func (c *RedisCache) Get(ctx context.Context, prompt string) (*Entry, error) {
	raw, err := c.rc.Get(ctx, imageKey(prompt))
	if err != nil || raw == "" {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, prompt string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, imageKey(prompt), string(b), c.ttl)
}

func (c *RedisCache) Sweep(context.Context) (int, error) { return 0, nil }
