package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// ResponseCache holds small raw responses from remote transform services,
// such as palettes and blurhashes.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisResponseCache struct {
	client *redis.Client
	prefix string
}

func NewRedisResponseCache(client *redis.Client, prefix string) *RedisResponseCache {
	if prefix == "" {
		prefix = "pixelforge:responses:"
	}
	return &RedisResponseCache{client: client, prefix: prefix}
}

func (c *RedisResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get response: %w", err)
	}
	return val, true, nil
}

func (c *RedisResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set response: %w", err)
	}
	return nil
}

type lruItem struct {
	value   []byte
	expires time.Time
}

// LRUResponseCache is the in-process fallback when redis is not configured.
type LRUResponseCache struct {
	mu    sync.Mutex
	items *lru.Cache[string, lruItem]
	now   func() time.Time
}

func NewLRUResponseCache(size int) (*LRUResponseCache, error) {
	if size <= 0 {
		size = 1024
	}
	items, err := lru.New[string, lruItem](size)
	if err != nil {
		return nil, fmt.Errorf("build lru response cache: %w", err)
	}
	return &LRUResponseCache{items: items, now: time.Now}, nil
}

func (c *LRUResponseCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		c.items.Remove(key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (c *LRUResponseCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := lruItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.items.Add(key, item)
	return nil
}
