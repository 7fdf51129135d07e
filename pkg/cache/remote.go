package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// RemoteCache 远程缓存（L2）接口。
// 为不同的远程缓存实现（Redis、Memcached等）提供统一接口。
type RemoteCache interface {
	Store

	// Connect 连接到远程缓存服务器
	Connect(ctx context.Context) error

	// IsConnected 检查是否已连接
	IsConnected() bool

	// Ping 检查连接状态
	Ping(ctx context.Context) error

	// GetWithTTL 获取值及其剩余TTL。
	// 剩余TTL未知（如键无过期时间）时返回 0，由调用方决定提升时使用的TTL。
	GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error)
}

// MockRemoteCacheConfig 模拟远程缓存配置
type MockRemoteCacheConfig struct {
	MaxEntries int64         // 最大条目数（客户端限制，0 表示不限）
	DefaultTTL time.Duration // 默认生存时间
}

// MockRemoteCache 模拟远程缓存实现（用于测试和本地开发）。
// 支持注入故障和延迟，便于验证上层在 L2 不可用时的降级行为。
type MockRemoteCache struct {
	mu        sync.RWMutex
	config    MockRemoteCacheConfig
	data      map[string]mockRemoteEntry
	hitCount  int64
	missCount int64
	connected bool

	forcedErr     error         // 非 nil 时所有远程操作返回该错误
	forcedLatency time.Duration // 每次远程操作前注入的延迟
}

type mockRemoteEntry struct {
	value      interface{}
	expireTime time.Time
}

// NewMockRemoteCache 创建模拟远程缓存。初始即为已连接状态。
func NewMockRemoteCache(config MockRemoteCacheConfig) *MockRemoteCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	return &MockRemoteCache{
		config:    config,
		data:      make(map[string]mockRemoteEntry),
		connected: true,
	}
}

// ForceFailure 注入故障：之后的所有远程操作都返回 err。传入 nil 恢复正常。
// 非 CacheError 类型的错误会被包装为 REMOTE_UNAVAILABLE。
func (m *MockRemoteCache) ForceFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedErr = err
}

// ForceLatency 注入延迟：之后的每次远程操作前等待 d。传入 0 恢复正常。
func (m *MockRemoteCache) ForceLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forcedLatency = d
}

// simulate 执行注入的延迟与故障，并响应上下文取消。
func (m *MockRemoteCache) simulate(ctx context.Context) error {
	m.mu.RLock()
	forcedErr := m.forcedErr
	latency := m.forcedLatency
	m.mu.RUnlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return WrapError(ErrRemoteTimeout, "remote operation timed out", ctx.Err())
		}
	}
	if forcedErr != nil {
		var cacheErr *CacheError
		if errors.As(forcedErr, &cacheErr) {
			return forcedErr
		}
		return WrapError(ErrRemoteUnavailable, "remote unavailable", forcedErr)
	}
	return nil
}

// Connect 模拟连接
func (m *MockRemoteCache) Connect(ctx context.Context) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// IsConnected 检查是否已连接
func (m *MockRemoteCache) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && m.forcedErr == nil
}

// Ping 模拟Ping操作
func (m *MockRemoteCache) Ping(ctx context.Context) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}
	m.mu.RLock()
	connected := m.connected
	m.mu.RUnlock()
	if !connected {
		return NewCacheError(ErrRemoteUnavailable, "not connected")
	}
	return nil
}

// Get 从模拟缓存获取数据
func (m *MockRemoteCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, _, err := m.GetWithTTL(ctx, key)
	return value, err
}

// GetWithTTL 从模拟缓存获取数据及剩余TTL
func (m *MockRemoteCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		m.recordLookup(false)
		return nil, 0, NewCacheError(ErrCacheMiss, "cache miss")
	}

	now := time.Now()
	remaining := entry.expireTime.Sub(now)
	if remaining <= 0 {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		m.recordLookup(false)
		return nil, 0, NewCacheError(ErrCacheMiss, "cache expired")
	}

	m.recordLookup(true)
	return entry.value, remaining, nil
}

// Set 向模拟缓存设置数据
func (m *MockRemoteCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}

	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}
	expireTime := time.Now().Add(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	// 超出条目上限时删除最先过期的条目
	if m.config.MaxEntries > 0 && int64(len(m.data)) >= m.config.MaxEntries {
		if _, exists := m.data[key]; !exists {
			var earliestKey string
			var earliestTime time.Time
			for k, e := range m.data {
				if earliestTime.IsZero() || e.expireTime.Before(earliestTime) {
					earliestKey = k
					earliestTime = e.expireTime
				}
			}
			if earliestKey != "" {
				delete(m.data, earliestKey)
			}
		}
	}

	m.data[key] = mockRemoteEntry{
		value:      value,
		expireTime: expireTime,
	}
	return nil
}

// Delete 从模拟缓存删除数据
func (m *MockRemoteCache) Delete(ctx context.Context, key string) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Clear 清空模拟缓存
func (m *MockRemoteCache) Clear(ctx context.Context) error {
	if err := m.simulate(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]mockRemoteEntry)
	m.hitCount = 0
	m.missCount = 0
	return nil
}

// Stats 获取模拟缓存统计信息
func (m *MockRemoteCache) Stats() TierStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hitRate float64
	if total := m.hitCount + m.missCount; total > 0 {
		hitRate = float64(m.hitCount) / float64(total)
	}

	return TierStats{
		Size:      int64(len(m.data)),
		MaxSize:   m.config.MaxEntries,
		HitCount:  m.hitCount,
		MissCount: m.missCount,
		HitRate:   hitRate,
		TTL:       m.config.DefaultTTL,
	}
}

// Close 关闭模拟缓存
func (m *MockRemoteCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockRemoteCache) recordLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hitCount++
	} else {
		m.missCount++
	}
}

var _ RemoteCache = (*MockRemoteCache)(nil)
