package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a byte-oriented cache shared by the in-memory and Redis backends.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options configures an in-memory Cache.
type Options struct {
	DefaultExpiration time.Duration
	CleanupInterval   time.Duration
	MaxItems          int
}

// Item represents a cached item with expiration
type Item struct {
	Value      []byte
	Expiration int64
}

// Expired checks if the cache item has expired
func (item Item) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache struct {
	items             map[string]Item
	mu                sync.RWMutex
	defaultExpiration time.Duration
	cleanupInterval   time.Duration
	maxItems          int
	onEvicted         func(string, []byte)
	stop              chan struct{}
	stopOnce          sync.Once
}

var _ Store = (*Cache)(nil)

// NewCache creates a new cache. A janitor goroutine runs while
// CleanupInterval > 0; release it with Close.
func NewCache(opts Options) *Cache {
	c := &Cache{
		items:             make(map[string]Item),
		defaultExpiration: opts.DefaultExpiration,
		cleanupInterval:   opts.CleanupInterval,
		maxItems:          opts.MaxItems,
		stop:              make(chan struct{}),
	}

	if c.cleanupInterval > 0 {
		go c.startCleanupTimer()
	}

	return c
}

// Get retrieves an unexpired item from the cache
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || item.Expired() {
		return nil, false, nil
	}
	return item.Value, true, nil
}

// Set adds an item to the cache. A zero ttl uses the default expiration.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultExpiration
	}

	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	c.items[key] = Item{Value: value, Expiration: exp}
	return nil
}

// Delete removes an item from the cache
func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item, found := c.items[key]; found && c.onEvicted != nil {
		c.onEvicted(key, item.Value)
	}
	delete(c.items, key)
	return nil
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// SetOnEvicted sets the callback to be called when an item is evicted
func (c *Cache) SetOnEvicted(f func(string, []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onEvicted = f
}

// Close stops the janitor goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) startCleanupTimer() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, v := range c.items {
		if v.Expiration > 0 && now > v.Expiration {
			if c.onEvicted != nil {
				c.onEvicted(k, v.Value)
			}
			delete(c.items, k)
		}
	}
}

// evictOldest removes the item closest to expiry. Items without an
// expiration are only evicted when nothing else is left.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime int64
	first := true

	for k, v := range c.items {
		exp := v.Expiration
		if exp == 0 {
			exp = 1<<63 - 1
		}
		if first || exp < oldestTime {
			oldestKey = k
			oldestTime = exp
			first = false
		}
	}

	if first {
		return
	}
	if c.onEvicted != nil {
		c.onEvicted(oldestKey, c.items[oldestKey].Value)
	}
	delete(c.items, oldestKey)
}
