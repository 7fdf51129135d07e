// Package metrics 将缓存统计快照导出到 InfluxDB 时序数据库。
package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"cachekit/pkg/cache"
	"cachekit/pkg/logger"
)

// Config 指标导出配置
type Config struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`         // 是否启用导出
	URL         string `mapstructure:"url" json:"url"`                 // InfluxDB 地址
	Token       string `mapstructure:"token" json:"token"`             // 访问令牌
	Org         string `mapstructure:"org" json:"org"`                 // 组织
	Bucket      string `mapstructure:"bucket" json:"bucket"`           // 存储桶
	Measurement string `mapstructure:"measurement" json:"measurement"` // 测量名
	Instance    string `mapstructure:"instance" json:"instance"`       // 实例标识，空则自动生成
}

// Reporter 将缓存统计写入 InfluxDB。
// 写入是异步批量的，失败只记录日志，不影响缓存本身。
type Reporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	config   Config
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
}

// NewReporter 创建指标导出器。构造时不校验连接，由 Health 完成。
func NewReporter(config Config) *Reporter {
	if config.Measurement == "" {
		config.Measurement = "cache_stats"
	}
	if config.Instance == "" {
		config.Instance = defaultInstance()
	}

	client := influxdb2.NewClient(config.URL, config.Token)
	writeAPI := client.WriteAPI(config.Org, config.Bucket)

	ctx, cancel := context.WithCancel(context.Background())

	r := &Reporter{
		client:   client,
		writeAPI: writeAPI,
		config:   config,
		log:      logger.WithComponent("metrics.reporter"),
		ctx:      ctx,
		cancel:   cancel,
	}

	go r.handleWriteErrors()

	return r
}

// defaultInstance 生成实例标识：优先主机名，取不到时用随机ID。
func defaultInstance() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.New().String()[:8]
}

// Health 检查 InfluxDB 可达性。
func (r *Reporter) Health(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb unhealthy: %s", health.Status)
	}
	return nil
}

// Report 导出一份统计快照。
func (r *Reporter) Report(stats cache.CacheStats) {
	for _, point := range buildPoints(stats, r.config.Measurement, r.config.Instance) {
		r.writeAPI.WritePoint(point)
	}

	r.log.WithFields(logrus.Fields{
		"hit_rate":     stats.HitRate,
		"total_hits":   stats.TotalHits,
		"total_misses": stats.TotalMisses,
	}).Debug("cache stats reported")
}

// buildPoints 将快照转换为数据点：一个合并点，加上每层各一个带 tier 标签的点。
func buildPoints(stats cache.CacheStats, measurement, instance string) []*write.Point {
	ts := stats.CollectedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	combined := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("instance", instance).
		AddField("l1_hits", stats.L1Hits).
		AddField("l2_hits", stats.L2Hits).
		AddField("total_hits", stats.TotalHits).
		AddField("total_misses", stats.TotalMisses).
		AddField("hit_rate", stats.HitRate).
		AddField("promote_count", stats.PromoteCount).
		AddField("write_through_fails", stats.WriteThroughFails).
		AddField("discard_count", stats.DiscardCount).
		AddField("remote_errors", stats.RemoteErrors).
		AddField("remote_connected", stats.RemoteConnected).
		SetTime(ts)

	return []*write.Point{
		combined,
		tierPoint(stats.L1, measurement, instance, "l1", ts),
		tierPoint(stats.L2, measurement, instance, "l2", ts),
	}
}

func tierPoint(tier cache.TierStats, measurement, instance, name string, ts time.Time) *write.Point {
	return influxdb2.NewPointWithMeasurement(measurement+"_tier").
		AddTag("instance", instance).
		AddTag("tier", name).
		AddField("size", tier.Size).
		AddField("memory_bytes", tier.MemoryBytes).
		AddField("hit_count", tier.HitCount).
		AddField("miss_count", tier.MissCount).
		AddField("hit_rate", tier.HitRate).
		AddField("eviction_count", tier.EvictionCount).
		SetTime(ts)
}

// Flush 同步刷出缓冲中的数据点。
func (r *Reporter) Flush() {
	r.writeAPI.Flush()
}

// Close 停止导出并释放客户端。
func (r *Reporter) Close() {
	// 先刷出再停掉错误监听，避免最后一批写入的错误无人接收
	r.writeAPI.Flush()
	r.cancel()
	r.client.Close()
}

func (r *Reporter) handleWriteErrors() {
	errorsCh := r.writeAPI.Errors()
	for {
		select {
		case <-r.ctx.Done():
			return
		case err := <-errorsCh:
			r.log.WithError(err).Error("InfluxDB write error")
		}
	}
}
