package cache

import (
	"sync"
	"time"
)

// item 缓存项
type item[V any] struct {
	value      V
	expiration int64 // Unix纳秒，0表示永不过期
}

func (it *item[V]) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// Cache 进程内缓存，作为共享缓存前的本地一级缓存
type Cache[V any] struct {
	items map[string]*item[V]
	mu    sync.RWMutex
	now   func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Option 缓存选项
type Option func(*options)

type options struct {
	cleanupInterval time.Duration
	now             func() time.Time
}

// WithCleanup 定期清理过期项，0 表示不清理
func WithCleanup(interval time.Duration) Option {
	return func(o *options) { o.cleanupInterval = interval }
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New 创建新的缓存实例
func New[V any](opts ...Option) *Cache[V] {
	o := &options{
		cleanupInterval: time.Minute,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Cache[V]{
		items:           make(map[string]*item[V]),
		now:             o.now,
		cleanupInterval: o.cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	if c.cleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// cleanupLoop 定期清理过期项
func (c *Cache[V]) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// Set 设置带过期时间的缓存，ttl<=0 表示不写入
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = &item[V]{
		value:      value,
		expiration: c.now().Add(ttl).UnixNano(),
	}
	c.mu.Unlock()
}

// Get 获取缓存，过期视为不存在
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if it.expired(c.now().UnixNano()) {
		c.Delete(key)
		return zero, false
	}
	return it.value, true
}

// Delete 删除缓存
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeleteExpired 删除所有过期项
func (c *Cache[V]) DeleteExpired() {
	now := c.now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, it := range c.items {
		if it.expired(now) {
			delete(c.items, key)
		}
	}
}

// Count 获取缓存数量（含未清理的过期项）
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear 清空所有缓存
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*item[V])
	c.mu.Unlock()
}

// Close 关闭缓存（停止清理协程）
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}
