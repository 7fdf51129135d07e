package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"cachekit/pkg/logger"
)

// RedisCacheConfig Redis 远程缓存（L2）配置
type RedisCacheConfig struct {
	Addr           string        `mapstructure:"addr" json:"addr"`                       // Redis 地址，格式 host:port
	Password       string        `mapstructure:"password" json:"password"`               // Redis 密码
	DB             int           `mapstructure:"db" json:"db"`                           // Redis 数据库编号
	KeyPrefix      string        `mapstructure:"key_prefix" json:"key_prefix"`           // 键前缀，用于命名空间隔离
	DefaultTTL     time.Duration `mapstructure:"default_ttl" json:"default_ttl"`         // 默认生存时间
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"` // 连接超时
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"` // 单次请求超时
	PoolSize       int           `mapstructure:"pool_size" json:"pool_size"`             // 连接池大小
	Breaker        BreakerConfig `mapstructure:"breaker" json:"breaker"`                 // 熔断器配置
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Name        string        `mapstructure:"name" json:"name"`                   // 熔断器名称
	MaxRequests uint32        `mapstructure:"max_requests" json:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `mapstructure:"interval" json:"interval"`           // 统计窗口时间
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`             // 熔断器打开后的冷却时间
	ReadyToTrip uint32        `mapstructure:"ready_to_trip" json:"ready_to_trip"` // 触发熔断的连续失败次数阈值
	Enabled     bool          `mapstructure:"enabled" json:"enabled"`             // 是否启用熔断器
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "redis-cache",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
		Enabled:     true,
	}
}

// RedisCache 基于 Redis 的远程缓存实现，两级缓存中的 L2 层。
// 值以 JSON 序列化后写入；所有操作受单次请求超时约束并经过熔断器，
// 远程故障以 REMOTE_UNAVAILABLE / REMOTE_TIMEOUT 编码错误返回，由上层吸收。
type RedisCache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	config RedisCacheConfig
	log    *logrus.Entry

	hitCount  int64
	missCount int64
	connected int32
}

// redisValue 是一次远程读取的结果，经熔断器传递。
// 未命中不是远程故障，不能计入熔断器失败。
type redisValue struct {
	data  []byte
	ttl   time.Duration
	found bool
}

// NewRedisCache 创建 Redis 远程缓存。构造时不建立连接，由 Connect 完成。
func NewRedisCache(config RedisCacheConfig) *RedisCache {
	log := logger.WithComponent("cache.redis")

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.ConnectTimeout,
		ReadTimeout:  config.RequestTimeout,
		WriteTimeout: config.RequestTimeout,
	})

	settings := gobreaker.Settings{
		Name:        config.Breaker.Name,
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// 当连续失败次数达到阈值时触发熔断
			return counts.ConsecutiveFailures >= config.Breaker.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("熔断器 %s 状态从 %v 变更为 %v", name, from, to)
		},
	}

	return &RedisCache{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
		config: config,
		log:    log,
	}
}

// Connect 建立连接并验证 Redis 可达。
func (rc *RedisCache) Connect(ctx context.Context) error {
	pingCtx := ctx
	if rc.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, rc.config.ConnectTimeout)
		defer cancel()
	}

	if err := rc.client.Ping(pingCtx).Err(); err != nil {
		rc.markConnected(false)
		return rc.classify(err)
	}
	rc.markConnected(true)
	return nil
}

// IsConnected 检查远程缓存当前是否可达。熔断器打开期间视为不可达。
func (rc *RedisCache) IsConnected() bool {
	if rc.config.Breaker.Enabled && rc.cb.State() == gobreaker.StateOpen {
		return false
	}
	return atomic.LoadInt32(&rc.connected) == 1
}

// Ping 检查连接状态。探测不经过熔断器，避免消耗半开状态的请求额度。
func (rc *RedisCache) Ping(ctx context.Context) error {
	opCtx, cancel := rc.opContext(ctx)
	defer cancel()

	if err := rc.client.Ping(opCtx).Err(); err != nil {
		rc.markConnected(false)
		return rc.classify(err)
	}
	rc.markConnected(true)
	return nil
}

// Get 从 Redis 获取数据
func (rc *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, _, err := rc.GetWithTTL(ctx, key)
	return value, err
}

// GetWithTTL 从 Redis 获取数据及剩余TTL。
// 读取与 PTTL 在同一管道中执行，保证取到的TTL与值对应。
func (rc *RedisCache) GetWithTTL(ctx context.Context, key string) (interface{}, time.Duration, error) {
	result, err := rc.execute(func() (interface{}, error) {
		opCtx, cancel := rc.opContext(ctx)
		defer cancel()

		pipe := rc.client.Pipeline()
		getCmd := pipe.Get(opCtx, rc.prefixed(key))
		ttlCmd := pipe.PTTL(opCtx, rc.prefixed(key))
		if _, err := pipe.Exec(opCtx); err != nil && err != redis.Nil {
			return nil, err
		}

		payload, err := getCmd.Bytes()
		if err == redis.Nil {
			return redisValue{found: false}, nil
		}
		if err != nil {
			return nil, err
		}

		// PTTL 对不存在或无过期时间的键返回负值，统一归零表示"剩余TTL未知"
		remaining := ttlCmd.Val()
		if remaining < 0 {
			remaining = 0
		}
		return redisValue{data: payload, ttl: remaining, found: true}, nil
	})
	if err != nil {
		rc.markConnected(false)
		return nil, 0, rc.classify(err)
	}
	rc.markConnected(true)

	rv := result.(redisValue)
	if !rv.found {
		atomic.AddInt64(&rc.missCount, 1)
		return nil, 0, NewCacheError(ErrCacheMiss, "cache miss")
	}

	var value interface{}
	if err := json.Unmarshal(rv.data, &value); err != nil {
		// 无法解码的条目按未命中处理，原因保留在错误链中
		atomic.AddInt64(&rc.missCount, 1)
		rc.log.WithError(err).WithField("key", key).Warn("discarding undecodable cache entry")
		return nil, 0, WrapError(ErrCacheMiss, "cache entry undecodable", err)
	}

	atomic.AddInt64(&rc.hitCount, 1)
	return value, rv.ttl, nil
}

// Set 向 Redis 设置数据。ttl<=0 时使用默认TTL。
// 值无法序列化时返回 SERIALIZE_FAILED，不会访问远程服务器。
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return WrapError(ErrSerializeFailed, "cache value not serializable", err)
	}

	if ttl <= 0 {
		ttl = rc.config.DefaultTTL
	}

	_, err = rc.execute(func() (interface{}, error) {
		opCtx, cancel := rc.opContext(ctx)
		defer cancel()
		return nil, rc.client.Set(opCtx, rc.prefixed(key), payload, ttl).Err()
	})
	if err != nil {
		rc.markConnected(false)
		return rc.classify(err)
	}
	rc.markConnected(true)
	return nil
}

// Delete 从 Redis 删除数据。键不存在不视为错误。
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	_, err := rc.execute(func() (interface{}, error) {
		opCtx, cancel := rc.opContext(ctx)
		defer cancel()
		return nil, rc.client.Del(opCtx, rc.prefixed(key)).Err()
	})
	if err != nil {
		rc.markConnected(false)
		return rc.classify(err)
	}
	rc.markConnected(true)
	return nil
}

// Clear 删除本实例键前缀下的所有键。仅供运维操作使用。
func (rc *RedisCache) Clear(ctx context.Context) error {
	deleted, err := rc.execute(func() (interface{}, error) {
		opCtx, cancel := rc.opContext(ctx)
		defer cancel()

		var total int64
		iter := rc.client.Scan(opCtx, 0, rc.config.KeyPrefix+"*", 100).Iterator()
		batch := make([]string, 0, 100)
		for iter.Next(opCtx) {
			batch = append(batch, iter.Val())
			if len(batch) >= 100 {
				if err := rc.client.Del(opCtx, batch...).Err(); err != nil {
					return total, err
				}
				total += int64(len(batch))
				batch = batch[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return total, err
		}
		if len(batch) > 0 {
			if err := rc.client.Del(opCtx, batch...).Err(); err != nil {
				return total, err
			}
			total += int64(len(batch))
		}
		return total, nil
	})
	if err != nil {
		rc.markConnected(false)
		return rc.classify(err)
	}
	rc.markConnected(true)
	rc.log.WithField("deleted", deleted).Info("remote cache cleared")
	return nil
}

// Stats 获取远程缓存统计信息。
// 条目数由服务器端维护，本地不统计，Size 恒为 0。
func (rc *RedisCache) Stats() TierStats {
	hitCount := atomic.LoadInt64(&rc.hitCount)
	missCount := atomic.LoadInt64(&rc.missCount)

	var hitRate float64
	if total := hitCount + missCount; total > 0 {
		hitRate = float64(hitCount) / float64(total)
	}

	return TierStats{
		HitCount:  hitCount,
		MissCount: missCount,
		HitRate:   hitRate,
		TTL:       rc.config.DefaultTTL,
	}
}

// BreakerState 返回熔断器当前状态。
func (rc *RedisCache) BreakerState() gobreaker.State {
	return rc.cb.State()
}

// BreakerCounts 返回熔断器计数信息。
func (rc *RedisCache) BreakerCounts() gobreaker.Counts {
	return rc.cb.Counts()
}

// Close 关闭 Redis 连接。
func (rc *RedisCache) Close() error {
	rc.markConnected(false)
	return rc.client.Close()
}

// execute 通过熔断器执行远程操作；熔断器禁用时直接执行。
func (rc *RedisCache) execute(fn func() (interface{}, error)) (interface{}, error) {
	if !rc.config.Breaker.Enabled {
		return fn()
	}
	return rc.cb.Execute(fn)
}

// opContext 为单次远程操作派生带超时的上下文。
func (rc *RedisCache) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if rc.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, rc.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

// prefixed 返回加上命名空间前缀的完整键。
func (rc *RedisCache) prefixed(key string) string {
	return rc.config.KeyPrefix + key
}

// markConnected 更新可达状态。
func (rc *RedisCache) markConnected(up bool) {
	if up {
		atomic.StoreInt32(&rc.connected, 1)
	} else {
		atomic.StoreInt32(&rc.connected, 0)
	}
}

// classify 将底层错误转换为编码错误。
func (rc *RedisCache) classify(err error) *CacheError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return WrapError(ErrRemoteUnavailable, "circuit breaker open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(ErrRemoteTimeout, "redis operation timed out", err)
	default:
		return WrapError(ErrRemoteUnavailable, "redis operation failed", err)
	}
}

var _ RemoteCache = (*RedisCache)(nil)
