package cache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCacheConfig 内存缓存（L1）配置
type MemoryCacheConfig struct {
	MaxEntries      int64         `mapstructure:"max_entries" json:"max_entries"`           // 最大条目数量（0 表示不限）
	MaxMemory       int64         `mapstructure:"max_memory" json:"max_memory"`             // 内存预算（字节，0 表示不限）
	DefaultTTL      time.Duration `mapstructure:"default_ttl" json:"default_ttl"`           // 默认TTL
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" json:"cleanup_interval"` // 后台清理间隔（0 表示不启动后台清理）
}

// MemoryCache 线程安全的进程内缓存，两级缓存中的 L1 层。
// 条目数与内存占用均有上限；容量压力下按"最久未访问优先、创建最早决胜"的顺序淘汰。
// 过期条目在读取时惰性删除，并由后台协程周期清理；过期删除计为未命中，不计入淘汰。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	config  MemoryCacheConfig

	memoryBytes int64 // 当前占用字节数（原子读取，写路径持锁更新）
	hitCount    int64
	missCount   int64
	evictCount  int64
	lastCleanup int64 // unix 纳秒

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache 创建新的内存缓存
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	cache := &MemoryCache{
		entries:     make(map[string]*Entry),
		config:      config,
		stopCleanup: make(chan struct{}),
		lastCleanup: time.Now().UnixNano(),
	}

	// 启动清理协程
	if config.CleanupInterval > 0 {
		cache.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go cache.runCleanup()
	}

	return cache
}

// Get 获取缓存值。过期条目在此处删除并计为未命中。
func (mc *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	mc.mu.RLock()
	entry, exists := mc.entries[key]
	mc.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&mc.missCount, 1)
		return nil, NewCacheError(ErrCacheMiss, "cache miss")
	}

	now := time.Now()
	if entry.Expired(now) {
		mc.mu.Lock()
		// 仅当指针仍是同一条目时删除，避免误删并发 Set 写入的新值
		if current, ok := mc.entries[key]; ok && current == entry {
			delete(mc.entries, key)
			atomic.AddInt64(&mc.memoryBytes, -entry.Size)
		}
		mc.mu.Unlock()
		atomic.AddInt64(&mc.missCount, 1)
		return nil, NewCacheError(ErrCacheMiss, "cache miss")
	}

	entry.Touch(now)
	atomic.AddInt64(&mc.hitCount, 1)
	return entry.Value, nil
}

// Set 设置缓存值。ttl<=0 时使用默认TTL。
// 重复设置同一个键会构造全新条目（创建时间、访问信息全部重置）。
// 写入后若超出内存预算或条目数上限，先清理过期条目，再按淘汰顺序驱逐存量条目直至满足预算。
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mc.config.DefaultTTL
	}

	entry := NewEntry(key, value, ttl)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if old, exists := mc.entries[key]; exists {
		atomic.AddInt64(&mc.memoryBytes, -old.Size)
	}
	mc.entries[key] = entry
	atomic.AddInt64(&mc.memoryBytes, entry.Size)

	if mc.overBudgetLocked() {
		mc.removeExpiredLocked(time.Now())
		mc.evictLocked(key)
	}

	return nil
}

// Delete 删除缓存值。键不存在时不视为错误。
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if entry, exists := mc.entries[key]; exists {
		delete(mc.entries, key)
		atomic.AddInt64(&mc.memoryBytes, -entry.Size)
	}
	return nil
}

// Clear 清空缓存并重置统计
func (mc *MemoryCache) Clear(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entries = make(map[string]*Entry)
	atomic.StoreInt64(&mc.memoryBytes, 0)
	atomic.StoreInt64(&mc.hitCount, 0)
	atomic.StoreInt64(&mc.missCount, 0)
	atomic.StoreInt64(&mc.evictCount, 0)
	return nil
}

// Cleanup 立即清理所有过期条目，返回清理的条目数。
// 后台协程周期性调用；也可由运维任务手动触发。
func (mc *MemoryCache) Cleanup() int {
	now := time.Now()

	type expiredKey struct {
		key   string
		entry *Entry
	}
	candidates := make([]expiredKey, 0)

	mc.mu.RLock()
	for key, entry := range mc.entries {
		if entry.Expired(now) {
			candidates = append(candidates, expiredKey{key, entry})
		}
	}
	mc.mu.RUnlock()

	removed := 0
	if len(candidates) > 0 {
		mc.mu.Lock()
		for _, c := range candidates {
			// 两阶段之间条目可能被替换，仅删除仍然指向同一条目的键
			if current, ok := mc.entries[c.key]; ok && current == c.entry {
				delete(mc.entries, c.key)
				atomic.AddInt64(&mc.memoryBytes, -c.entry.Size)
				removed++
			}
		}
		mc.mu.Unlock()
	}

	atomic.StoreInt64(&mc.lastCleanup, now.UnixNano())
	return removed
}

// Stats 获取缓存统计信息
func (mc *MemoryCache) Stats() TierStats {
	mc.mu.RLock()
	size := int64(len(mc.entries))
	mc.mu.RUnlock()

	hitCount := atomic.LoadInt64(&mc.hitCount)
	missCount := atomic.LoadInt64(&mc.missCount)

	var hitRate float64
	if total := hitCount + missCount; total > 0 {
		hitRate = float64(hitCount) / float64(total)
	}

	return TierStats{
		Size:          size,
		MaxSize:       mc.config.MaxEntries,
		MemoryBytes:   atomic.LoadInt64(&mc.memoryBytes),
		MemoryLimit:   mc.config.MaxMemory,
		HitCount:      hitCount,
		MissCount:     missCount,
		EvictionCount: atomic.LoadInt64(&mc.evictCount),
		HitRate:       hitRate,
		TTL:           mc.config.DefaultTTL,
		LastCleanup:   time.Unix(0, atomic.LoadInt64(&mc.lastCleanup)),
	}
}

// Close 关闭缓存，停止后台清理协程。可重复调用。
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		if mc.cleanupTicker != nil {
			mc.cleanupTicker.Stop()
		}
		close(mc.stopCleanup)
	})
	return nil
}

// runCleanup 后台清理协程
func (mc *MemoryCache) runCleanup() {
	for {
		select {
		case <-mc.cleanupTicker.C:
			mc.Cleanup()
		case <-mc.stopCleanup:
			return
		}
	}
}

// overBudgetLocked 判断当前是否超出条目数或内存预算（需持有锁）。
func (mc *MemoryCache) overBudgetLocked() bool {
	if mc.config.MaxEntries > 0 && int64(len(mc.entries)) > mc.config.MaxEntries {
		return true
	}
	if mc.config.MaxMemory > 0 && atomic.LoadInt64(&mc.memoryBytes) > mc.config.MaxMemory {
		return true
	}
	return false
}

// removeExpiredLocked 删除所有已过期条目（需持有锁）。过期删除不计入淘汰计数。
func (mc *MemoryCache) removeExpiredLocked(now time.Time) {
	for key, entry := range mc.entries {
		if entry.Expired(now) {
			delete(mc.entries, key)
			atomic.AddInt64(&mc.memoryBytes, -entry.Size)
		}
	}
	atomic.StoreInt64(&mc.lastCleanup, now.UnixNano())
}

// evictLocked 按"最久未访问优先、创建最早决胜"的顺序淘汰存量条目，
// 直至条目数与内存占用均回到预算内（需持有锁）。
// keep 指定的键（刚写入的条目）不参与淘汰，保证 Set 总是成功。
func (mc *MemoryCache) evictLocked(keep string) {
	if !mc.overBudgetLocked() {
		return
	}

	candidates := make([]*Entry, 0, len(mc.entries))
	for key, entry := range mc.entries {
		if key != keep {
			candidates = append(candidates, entry)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ai, aj := candidates[i].lastAccessNano(), candidates[j].lastAccessNano()
		if ai != aj {
			return ai < aj
		}
		return candidates[i].CreateTime.Before(candidates[j].CreateTime)
	})

	for _, entry := range candidates {
		if !mc.overBudgetLocked() {
			break
		}
		delete(mc.entries, entry.Key)
		atomic.AddInt64(&mc.memoryBytes, -entry.Size)
		atomic.AddInt64(&mc.evictCount, 1)
	}
}

var _ Store = (*MemoryCache)(nil)
