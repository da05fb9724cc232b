package mas

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/nci/gomemcache/memcache"
)

// Cache holds intersects payloads.  Invalidate drops every payload.
type Cache interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Invalidate() error
}

// CacheKey hashes the parts identifying a request.
func CacheKey(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

const generationKey = "mas_generation"

// MemcacheCache stores payloads in memcached.  Keys are prefixed by a
// generation counter so an ingest invalidates every cached payload.
type MemcacheCache struct {
	mc *memcache.Client
}

// NewMemcacheCache connects lazily; errors are returned by Get.
func NewMemcacheCache(server ...string) *MemcacheCache {
	return &MemcacheCache{mc: memcache.New(server...)}
}

func (c *MemcacheCache) generation() string {
	item, err := c.mc.Get(generationKey)
	if err != nil {
		return "0"
	}
	return string(item.Value)
}

func (c *MemcacheCache) Get(key string) ([]byte, error) {
	item, err := c.mc.Get(c.generation() + "_" + key)
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (c *MemcacheCache) Set(key string, value []byte) error {
	return c.mc.Set(&memcache.Item{Key: c.generation() + "_" + key, Value: value})
}

func (c *MemcacheCache) Invalidate() error {
	_, err := c.mc.Increment(generationKey, 1)
	if err == memcache.ErrCacheMiss {
		err = c.mc.Add(&memcache.Item{Key: generationKey, Value: []byte("1")})
		if err == memcache.ErrNotStored {
			_, err = c.mc.Increment(generationKey, 1)
		}
	}
	if err != nil {
		return fmt.Errorf("memcache invalidate: %v", err)
	}
	return nil
}

// MemoryCache is an in process Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string][]byte)}
}

func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return v, nil
}

func (c *MemoryCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *MemoryCache) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string][]byte)
	return nil
}
