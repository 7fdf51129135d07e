package maintenance

import (
	"context"

	"github.com/sirupsen/logrus"

	"cachekit/pkg/cache"
	"cachekit/pkg/logger"
)

// Sweeper 能够清扫过期条目的缓存层
type Sweeper interface {
	Cleanup() int
}

// StatsSource 可提供统计快照的缓存
type StatsSource interface {
	Stats() cache.CacheStats
}

// Exporter 统计快照的导出目的地
type Exporter interface {
	Report(stats cache.CacheStats)
}

// Pinger 可探活的远程缓存
type Pinger interface {
	Ping(ctx context.Context) error
}

// SweepJob 返回过期清扫任务：移除 L1 中已过期但尚未被读到的条目。
func SweepJob(store Sweeper) JobFunc {
	log := logger.WithComponent("maintenance.sweep")
	return func(ctx context.Context) error {
		removed := store.Cleanup()
		if removed > 0 {
			log.WithField("removed", removed).Info("已清扫过期缓存条目")
		}
		return nil
	}
}

// StatsReportJob 返回统计日志任务：周期性把缓存命中情况写入日志。
func StatsReportJob(source StatsSource) JobFunc {
	log := logger.WithComponent("maintenance.stats")
	return func(ctx context.Context) error {
		stats := source.Stats()
		log.WithFields(logrus.Fields{
			"hit_rate":         stats.HitRate,
			"l1_hits":          stats.L1Hits,
			"l2_hits":          stats.L2Hits,
			"total_misses":     stats.TotalMisses,
			"l1_size":          stats.L1.Size,
			"l1_memory_bytes":  stats.L1.MemoryBytes,
			"promote_count":    stats.PromoteCount,
			"remote_errors":    stats.RemoteErrors,
			"remote_connected": stats.RemoteConnected,
		}).Info("缓存统计")
		return nil
	}
}

// MetricsExportJob 返回指标导出任务：把统计快照写入时序数据库。
func MetricsExportJob(source StatsSource, exporter Exporter) JobFunc {
	return func(ctx context.Context) error {
		exporter.Report(source.Stats())
		return nil
	}
}

// PingJob 返回远端探活任务。探活失败作为任务错误记录，便于在任务状态中观察。
func PingJob(pinger Pinger) JobFunc {
	log := logger.WithComponent("maintenance.ping")
	return func(ctx context.Context) error {
		if err := pinger.Ping(ctx); err != nil {
			log.WithError(err).Warn("远程缓存探活失败")
			return err
		}
		return nil
	}
}
