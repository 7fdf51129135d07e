// Package cache 实现了进程内 L1 + 远程 L2 的两级 TTL 缓存。
// L1 是有内存预算上限的本地缓存，L2 是共享的远程键值存储（如 Redis）；
// TieredCache 将两层组合为对调用方透明的单一入口。
package cache

import (
	"context"
	"time"
)

// Cache 定义了对调用方暴露的两级缓存行为。
// TieredCache 是其标准实现。
type Cache interface {
	// Get 按键读取。L1 未命中时回源 L2 并将命中结果提升至 L1。
	Get(ctx context.Context, key string) (interface{}, error)
	// Set 写入一个值。同步写入 L1，并尽力写穿透至 L2。
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete 从两层缓存中删除一个键。
	Delete(ctx context.Context, key string) error
	// Clear 清空本进程拥有的 L1 层。共享的 L2 不受影响。
	Clear(ctx context.Context) error
	// Stats 获取两层缓存的合并统计快照。
	Stats() CacheStats
	// Close 停止后台清理并释放底层连接。
	Close() error
}

// Store 定义了单层缓存的行为。
// MemoryCache（L1）与各 RemoteCache 实现（L2）都遵循此接口。
type Store interface {
	// Get 从本层获取一个值。未命中返回 CACHE_MISS 编码错误。
	Get(ctx context.Context, key string) (interface{}, error)
	// Set 向本层设置一个值。ttl<=0 时使用本层配置的默认 TTL。
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete 从本层删除一个值。键不存在不视为错误。
	Delete(ctx context.Context, key string) error
	// Clear 清空本层所有条目。
	Clear(ctx context.Context) error
	// Stats 获取本层的统计信息。
	Stats() TierStats
	// Close 关闭本层并释放资源。
	Close() error
}

// TierStats 包含了单层缓存的详细统计信息。
type TierStats struct {
	Size          int64         `json:"size"`           // 当前层中的条目数
	MaxSize       int64         `json:"max_size"`       // 条目数上限（0 表示不限）
	MemoryBytes   int64         `json:"memory_bytes"`   // 当前占用的近似字节数
	MemoryLimit   int64         `json:"memory_limit"`   // 内存预算（字节，0 表示不限）
	HitCount      int64         `json:"hit_count"`      // 命中次数
	MissCount     int64         `json:"miss_count"`     // 未命中次数
	EvictionCount int64         `json:"eviction_count"` // 因容量压力被淘汰的条目数
	HitRate       float64       `json:"hit_rate"`       // 命中率
	TTL           time.Duration `json:"ttl"`            // 默认的生存时间
	LastCleanup   time.Time     `json:"last_cleanup"`   // 最后一次清理过期条目的时间
}

// CacheStats 是 TieredCache 的合并统计快照。
// 各计数器均为原子读取，采集过程不会阻塞读写路径。
type CacheStats struct {
	L1                TierStats `json:"l1"`                  // L1 层统计
	L2                TierStats `json:"l2"`                  // L2 层统计
	L1Hits            int64     `json:"l1_hits"`             // 由 L1 满足的读取次数
	L2Hits            int64     `json:"l2_hits"`             // 由 L2 满足的读取次数
	TotalHits         int64     `json:"total_hits"`          // L1Hits + L2Hits
	TotalMisses       int64     `json:"total_misses"`        // 两层均未命中的读取次数
	HitRate           float64   `json:"hit_rate"`            // TotalHits / (TotalHits + TotalMisses)
	PromoteCount      int64     `json:"promote_count"`       // L2 命中被提升至 L1 的次数
	WriteThroughFails int64     `json:"write_through_fails"` // 写穿透 L2 失败的次数
	DiscardCount      int64     `json:"discard_count"`       // 因 TTL<=0 被当作删除处理的写入次数
	RemoteErrors      int64     `json:"remote_errors"`       // L2 不可用事件的次数
	RemoteConnected   bool      `json:"remote_connected"`    // L2 当前是否可达
	CollectedAt       time.Time `json:"collected_at"`        // 快照采集时间
}
