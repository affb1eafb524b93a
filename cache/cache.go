// Package cache 提供进程内的泛型 TTL 缓存
//
// 设计原则：
// 1. 简洁 - 只包含触发器查找与集成配置查找所需的功能
// 2. 类型安全 - 使用泛型提供编译时类型检查
// 3. 容量管理 - 防止 OOM，自动 LRU 驱逐
// 4. 并发安全 - 使用互斥锁保护
//
// 过期语义：条目自写入时刻起计时（TTL 窗口内允许读到旧值，
// 调用方在配置变更时应显式 Clear，而不是依赖缓存自动失效）。
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache 通用泛型缓存
//
// 使用示例：
//
//	c := cache.New[string, []*workflow.Definition](cache.Config{
//	    Name:    "trigger_lookup",
//	    MaxSize: 1000,
//	    TTL:     5 * time.Minute,
//	})
type Cache[K comparable, V any] struct {
	name   string
	config Config

	items   map[K]*entry[K, V]
	lruList *list.List

	mu    sync.Mutex
	stats Stats
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	storedAt   time.Time
	lruElement *list.Element
}

// Config 缓存配置
type Config struct {
	// Name 缓存名称（用于日志和统计）
	Name string

	// MaxSize 最大缓存条目数，0 表示无限制
	MaxSize int

	// TTL 缓存过期时间，自写入时刻起计时
	// 0 表示永不过期
	TTL time.Duration
}

// Stats 缓存统计信息
type Stats struct {
	Hits      int64 // 缓存命中次数
	Misses    int64 // 缓存未命中次数
	Evictions int64 // LRU 驱逐次数
	Expires   int64 // TTL 过期次数
	Size      int   // 当前条目数
}

// New 创建新的缓存实例
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	return &Cache[K, V]{
		name:    config.Name,
		config:  config,
		items:   make(map[K]*entry[K, V]),
		lruList: list.New(),
	}
}

// Get 获取缓存值
//
// Get 需要更新 LRU 位置与统计信息，都会修改内部状态，
// 因此统一在互斥锁下完成读取与更新。
//
// 返回：
//   - value: 缓存的值
//   - found: 是否找到且未过期
func (c *Cache[K, V]) Get(key K) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return value, false
	}

	if c.isExpired(e) {
		c.removeLocked(e)
		c.stats.Misses++
		c.stats.Expires++
		return value, false
	}

	c.lruList.MoveToFront(e.lruElement)
	c.stats.Hits++
	return e.value, true
}

// Set 设置缓存值，过期计时重新开始
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if e, exists := c.items[key]; exists {
		e.value = value
		e.storedAt = now
		c.lruList.MoveToFront(e.lruElement)
		return
	}

	if c.config.MaxSize > 0 && len(c.items) >= c.config.MaxSize {
		c.evictOldestLocked()
	}

	e := &entry[K, V]{key: key, value: value, storedAt: now}
	e.lruElement = c.lruList.PushFront(e)
	c.items[key] = e
	c.stats.Size = len(c.items)
}

// Delete 删除缓存条目
//
// 返回：是否存在并被删除
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeLocked(e)
	return true
}

// Clear 清空所有缓存
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*entry[K, V])
	c.lruList = list.New()
	c.stats.Size = 0
}

// GetStats 获取缓存统计信息（副本）
func (c *Cache[K, V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Size 获取当前缓存条目数
func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// isExpired 检查条目是否过期（需要持锁调用）
func (c *Cache[K, V]) isExpired(e *entry[K, V]) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return time.Since(e.storedAt) >= c.config.TTL
}

// evictOldestLocked 驱逐最久未使用的条目（需要持锁调用）
func (c *Cache[K, V]) evictOldestLocked() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.removeLocked(oldest.Value.(*entry[K, V]))
	c.stats.Evictions++
}

// removeLocked 删除条目（需要持锁调用）
func (c *Cache[K, V]) removeLocked(e *entry[K, V]) {
	if e.lruElement != nil {
		c.lruList.Remove(e.lruElement)
	}
	delete(c.items, e.key)
	c.stats.Size = len(c.items)
}
