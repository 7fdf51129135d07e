package cache

import (
	"sync/atomic"
	"time"
)

// StatsCollector 聚合两级缓存的协调层计数器。
// 所有计数器均为原子操作，记录与快照都不会阻塞缓存读写路径；
// 计数只增不减，除非显式调用 Reset。
type StatsCollector struct {
	l1Hits            int64
	l2Hits            int64
	misses            int64
	promoteCount      int64
	writeThroughFails int64
	discardCount      int64
	remoteErrors      int64
}

// NewStatsCollector 创建统计收集器
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// RecordL1Hit 记录一次由 L1 满足的读取。
func (sc *StatsCollector) RecordL1Hit() {
	atomic.AddInt64(&sc.l1Hits, 1)
}

// RecordL2Hit 记录一次由 L2 满足的读取。
func (sc *StatsCollector) RecordL2Hit() {
	atomic.AddInt64(&sc.l2Hits, 1)
}

// RecordMiss 记录一次两层均未命中的读取。
func (sc *StatsCollector) RecordMiss() {
	atomic.AddInt64(&sc.misses, 1)
}

// RecordPromote 记录一次 L2 命中提升至 L1。
func (sc *StatsCollector) RecordPromote() {
	atomic.AddInt64(&sc.promoteCount, 1)
}

// RecordWriteThroughFail 记录一次写穿透 L2 失败。
func (sc *StatsCollector) RecordWriteThroughFail() {
	atomic.AddInt64(&sc.writeThroughFails, 1)
}

// RecordDiscard 记录一次因 TTL<=0 被当作删除处理的写入。
func (sc *StatsCollector) RecordDiscard() {
	atomic.AddInt64(&sc.discardCount, 1)
}

// RecordRemoteError 记录一次 L2 不可用事件。
func (sc *StatsCollector) RecordRemoteError() {
	atomic.AddInt64(&sc.remoteErrors, 1)
}

// Reset 将所有计数器归零。仅供运维操作显式调用。
func (sc *StatsCollector) Reset() {
	atomic.StoreInt64(&sc.l1Hits, 0)
	atomic.StoreInt64(&sc.l2Hits, 0)
	atomic.StoreInt64(&sc.misses, 0)
	atomic.StoreInt64(&sc.promoteCount, 0)
	atomic.StoreInt64(&sc.writeThroughFails, 0)
	atomic.StoreInt64(&sc.discardCount, 0)
	atomic.StoreInt64(&sc.remoteErrors, 0)
}

// Snapshot 将协调层计数器与两层各自的统计合并为一份快照。
// 命中率 = 总命中 / (总命中 + 总未命中)，无任何读取时为 0。
func (sc *StatsCollector) Snapshot(l1, l2 TierStats, remoteConnected bool) CacheStats {
	l1Hits := atomic.LoadInt64(&sc.l1Hits)
	l2Hits := atomic.LoadInt64(&sc.l2Hits)
	misses := atomic.LoadInt64(&sc.misses)

	totalHits := l1Hits + l2Hits
	var hitRate float64
	if total := totalHits + misses; total > 0 {
		hitRate = float64(totalHits) / float64(total)
	}

	return CacheStats{
		L1:                l1,
		L2:                l2,
		L1Hits:            l1Hits,
		L2Hits:            l2Hits,
		TotalHits:         totalHits,
		TotalMisses:       misses,
		HitRate:           hitRate,
		PromoteCount:      atomic.LoadInt64(&sc.promoteCount),
		WriteThroughFails: atomic.LoadInt64(&sc.writeThroughFails),
		DiscardCount:      atomic.LoadInt64(&sc.discardCount),
		RemoteErrors:      atomic.LoadInt64(&sc.remoteErrors),
		RemoteConnected:   remoteConnected,
		CollectedAt:       time.Now(),
	}
}
