package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/logger"
)

// TieredCacheConfig 两级缓存协调器配置
type TieredCacheConfig struct {
	PromoteTTL   time.Duration `mapstructure:"promote_ttl" json:"promote_ttl"`     // L2 剩余TTL未知时提升条目使用的TTL
	WriteThrough bool          `mapstructure:"write_through" json:"write_through"` // 是否将写入穿透至 L2
}

// DefaultTieredCacheConfig 默认协调器配置
func DefaultTieredCacheConfig() TieredCacheConfig {
	return TieredCacheConfig{
		PromoteTTL:   5 * time.Minute,
		WriteThrough: true,
	}
}

// TieredCache 两级缓存的协调器，调用方的唯一入口。
// 读取先查 L1，未命中回源 L2 并将命中结果带剩余TTL提升至 L1；
// 写入同步落 L1，尽力写穿透至 L2。L2 的任何故障都被吸收为未命中并计入统计，
// 绝不影响调用方的读写结果；只有非法输入会以同步错误返回。
type TieredCache struct {
	l1     Store
	remote RemoteCache
	stats  *StatsCollector
	config TieredCacheConfig
	log    *logrus.Entry

	closeOnce sync.Once
	closeErr  error
}

// NewTieredCache 创建两级缓存协调器。
// remote 可以为 nil，此时以纯 L1 模式运行。
func NewTieredCache(l1 Store, remote RemoteCache, config TieredCacheConfig) *TieredCache {
	if config.PromoteTTL <= 0 {
		config.PromoteTTL = DefaultTieredCacheConfig().PromoteTTL
	}
	return &TieredCache{
		l1:     l1,
		remote: remote,
		stats:  NewStatsCollector(),
		config: config,
		log:    logger.WithComponent("cache.tiered"),
	}
}

// Get 按键读取。
// L1 命中直接返回；L1 未命中且 L2 命中时，条目以 L2 的剩余TTL（未知时用 PromoteTTL）
// 提升至 L1 后返回；两层均未命中或 L2 不可用时返回 CACHE_MISS。
func (tc *TieredCache) Get(ctx context.Context, key string) (interface{}, error) {
	if key == "" {
		return nil, NewCacheError(ErrInvalidKey, "cache key must not be empty")
	}

	if value, err := tc.l1.Get(ctx, key); err == nil {
		tc.stats.RecordL1Hit()
		return value, nil
	}

	if tc.remote == nil {
		tc.stats.RecordMiss()
		return nil, NewCacheError(ErrCacheMiss, "cache miss")
	}

	value, remaining, err := tc.remote.GetWithTTL(ctx, key)
	if err != nil {
		if !IsMiss(err) {
			tc.stats.RecordRemoteError()
			tc.log.WithError(err).WithField("key", key).Debug("remote lookup failed, treating as miss")
		}
		tc.stats.RecordMiss()
		return nil, NewCacheError(ErrCacheMiss, "cache miss")
	}

	tc.stats.RecordL2Hit()

	promoteTTL := remaining
	if promoteTTL <= 0 {
		promoteTTL = tc.config.PromoteTTL
	}
	if perr := tc.l1.Set(ctx, key, value, promoteTTL); perr == nil {
		tc.stats.RecordPromote()
	}

	return value, nil
}

// Set 写入一个值。
// ttl<=0 的写入视为"到达即过期"：从两层删除该键并返回成功。
// 其余情况同步写入 L1（总是成功），随后尽力写穿透至 L2；
// L2 写入失败只计入统计，不返回给调用方。
func (tc *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return NewCacheError(ErrInvalidKey, "cache key must not be empty")
	}

	if ttl <= 0 {
		tc.stats.RecordDiscard()
		_ = tc.l1.Delete(ctx, key)
		if tc.remote != nil {
			if err := tc.remote.Delete(ctx, key); err != nil {
				tc.stats.RecordRemoteError()
				tc.log.WithError(err).WithField("key", key).Debug("remote delete failed during discard")
			}
		}
		return nil
	}

	if err := tc.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	if tc.remote != nil && tc.config.WriteThrough {
		if err := tc.remote.Set(ctx, key, value, ttl); err != nil {
			tc.stats.RecordWriteThroughFail()
			if IsRemoteUnavailable(err) {
				tc.stats.RecordRemoteError()
			}
			tc.log.WithError(err).WithField("key", key).Debug("write-through to remote failed")
		}
	}

	return nil
}

// Delete 从两层删除一个键。键不存在或 L2 不可用都不视为错误。
func (tc *TieredCache) Delete(ctx context.Context, key string) error {
	if key == "" {
		return NewCacheError(ErrInvalidKey, "cache key must not be empty")
	}

	_ = tc.l1.Delete(ctx, key)

	if tc.remote != nil {
		if err := tc.remote.Delete(ctx, key); err != nil {
			tc.stats.RecordRemoteError()
			tc.log.WithError(err).WithField("key", key).Debug("remote delete failed")
		}
	}

	return nil
}

// Clear 清空本进程拥有的 L1 层。
// 共享的 L2 可能同时服务其他进程，不在此处清空；统计计数保持不变。
func (tc *TieredCache) Clear(ctx context.Context) error {
	return tc.l1.Clear(ctx)
}

// Warm 以给定TTL预热一批键值。ttl 必须为正。
func (tc *TieredCache) Warm(ctx context.Context, data map[string]interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return NewCacheError(ErrConfigInvalid, "warm ttl must be positive")
	}
	for key, value := range data {
		if err := tc.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Stats 获取两层缓存的合并统计快照。采集为常数时间，不阻塞读写。
func (tc *TieredCache) Stats() CacheStats {
	var l2Stats TierStats
	connected := false
	if tc.remote != nil {
		l2Stats = tc.remote.Stats()
		connected = tc.remote.IsConnected()
	}
	return tc.stats.Snapshot(tc.l1.Stats(), l2Stats, connected)
}

// ResetStats 将协调层统计计数归零。仅供运维操作显式调用。
func (tc *TieredCache) ResetStats() {
	tc.stats.Reset()
}

// Remote 返回底层远程缓存，供健康检查等运维场景使用。纯 L1 模式下为 nil。
func (tc *TieredCache) Remote() RemoteCache {
	return tc.remote
}

// Close 关闭两层缓存。可重复调用。
func (tc *TieredCache) Close() error {
	tc.closeOnce.Do(func() {
		tc.closeErr = tc.l1.Close()
		if tc.remote != nil {
			if err := tc.remote.Close(); err != nil && tc.closeErr == nil {
				tc.closeErr = err
			}
		}
	})
	return tc.closeErr
}

var _ Cache = (*TieredCache)(nil)
