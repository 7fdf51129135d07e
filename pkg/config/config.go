// Package config 定义缓存服务的完整配置：类型化结构、默认值、校验与加载。
// 配置按 文件 < 环境变量 < 命令行参数 的顺序覆盖。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cachekit/pkg/cache"
	"cachekit/pkg/logger"
	"cachekit/pkg/metrics"
)

// Config 主配置结构
type Config struct {
	// L1 进程内缓存配置
	L1 cache.MemoryCacheConfig `mapstructure:"l1" json:"l1"`

	// 远程缓存（L2）配置
	Remote RemoteConfig `mapstructure:"remote" json:"remote"`

	// 两级协调器配置
	Tiered cache.TieredCacheConfig `mapstructure:"tiered" json:"tiered"`

	// 后台维护任务配置
	Maintenance MaintenanceConfig `mapstructure:"maintenance" json:"maintenance"`

	// 指标导出配置
	Metrics metrics.Config `mapstructure:"metrics" json:"metrics"`

	// HTTP 服务配置
	Server ServerConfig `mapstructure:"server" json:"server"`

	// 日志配置
	Logger logger.Config `mapstructure:"logger" json:"logger"`
}

// RemoteConfig 远程缓存层配置
type RemoteConfig struct {
	Enabled bool                   `mapstructure:"enabled" json:"enabled"` // 关闭时以纯 L1 模式运行
	Redis   cache.RedisCacheConfig `mapstructure:"redis" json:"redis"`
}

// MaintenanceConfig 后台维护任务配置。调度表达式为带秒的六段 cron 格式。
type MaintenanceConfig struct {
	Enabled               bool   `mapstructure:"enabled" json:"enabled"`
	SweepSchedule         string `mapstructure:"sweep_schedule" json:"sweep_schedule"`                   // 过期条目清扫
	StatsReportSchedule   string `mapstructure:"stats_report_schedule" json:"stats_report_schedule"`     // 统计日志
	MetricsExportSchedule string `mapstructure:"metrics_export_schedule" json:"metrics_export_schedule"` // 指标导出
	PingSchedule          string `mapstructure:"ping_schedule" json:"ping_schedule"`                     // 远端探活
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		L1: cache.MemoryCacheConfig{
			MaxEntries:      10000,
			MaxMemory:       64 << 20, // 64MB
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: 1 * time.Minute,
		},
		Remote: RemoteConfig{
			Enabled: true,
			Redis: cache.RedisCacheConfig{
				Addr:           "localhost:6379",
				Password:       "",
				DB:             0,
				KeyPrefix:      "cachekit:",
				DefaultTTL:     10 * time.Minute,
				ConnectTimeout: 5 * time.Second,
				RequestTimeout: 3 * time.Second,
				PoolSize:       10,
				Breaker:        cache.DefaultBreakerConfig(),
			},
		},
		Tiered: cache.DefaultTieredCacheConfig(),
		Maintenance: MaintenanceConfig{
			Enabled:               true,
			SweepSchedule:         "0 * * * * *",
			StatsReportSchedule:   "30 * * * * *",
			MetricsExportSchedule: "*/15 * * * * *",
			PingSchedule:          "*/30 * * * * *",
		},
		Metrics: metrics.Config{
			Enabled:     false,
			URL:         "http://localhost:8086",
			Token:       "",
			Org:         "cachekit",
			Bucket:      "cache_metrics",
			Measurement: "cache_stats",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.L1.MaxEntries < 0 {
		return errors.New("l1 max_entries cannot be negative")
	}

	if c.L1.MaxMemory < 0 {
		return errors.New("l1 max_memory cannot be negative")
	}

	if c.L1.MaxEntries == 0 && c.L1.MaxMemory == 0 {
		return errors.New("l1 cache must be bounded by max_entries or max_memory")
	}

	if c.L1.DefaultTTL <= 0 {
		return errors.New("l1 default_ttl must be positive")
	}

	if c.L1.CleanupInterval < 0 {
		return errors.New("l1 cleanup_interval cannot be negative")
	}

	if c.Remote.Enabled {
		if c.Remote.Redis.Addr == "" {
			return errors.New("redis addr cannot be empty when remote cache is enabled")
		}

		if c.Remote.Redis.DefaultTTL <= 0 {
			return errors.New("redis default_ttl must be positive")
		}

		if c.Remote.Redis.ConnectTimeout <= 0 {
			return errors.New("redis connect_timeout must be positive")
		}

		if c.Remote.Redis.RequestTimeout <= 0 {
			return errors.New("redis request_timeout must be positive")
		}

		if c.Remote.Redis.PoolSize < 0 {
			return errors.New("redis pool_size cannot be negative")
		}

		if c.Remote.Redis.Breaker.Enabled && c.Remote.Redis.Breaker.ReadyToTrip == 0 {
			return errors.New("breaker ready_to_trip must be positive")
		}
	}

	if c.Tiered.PromoteTTL <= 0 {
		return errors.New("promote_ttl must be positive")
	}

	if c.Maintenance.Enabled {
		if c.Maintenance.SweepSchedule == "" {
			return errors.New("maintenance sweep_schedule cannot be empty")
		}

		if c.Maintenance.StatsReportSchedule == "" {
			return errors.New("maintenance stats_report_schedule cannot be empty")
		}

		if c.Maintenance.PingSchedule == "" {
			return errors.New("maintenance ping_schedule cannot be empty")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.URL == "" {
			return errors.New("influxdb url cannot be empty when metrics are enabled")
		}

		if c.Metrics.Org == "" {
			return errors.New("influxdb org cannot be empty when metrics are enabled")
		}

		if c.Metrics.Bucket == "" {
			return errors.New("influxdb bucket cannot be empty when metrics are enabled")
		}

		if c.Maintenance.Enabled && c.Maintenance.MetricsExportSchedule == "" {
			return errors.New("maintenance metrics_export_schedule cannot be empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	return nil
}

// SetRedisAddr 设置 Redis 地址
func (c *Config) SetRedisAddr(addr string) *Config {
	c.Remote.Redis.Addr = addr
	return c
}

// SetRedisPassword 设置 Redis 密码
func (c *Config) SetRedisPassword(password string) *Config {
	c.Remote.Redis.Password = password
	return c
}

// SetPort 设置 HTTP 服务端口
func (c *Config) SetPort(port int) *Config {
	c.Server.Port = port
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}

// SetL1MaxEntries 设置 L1 最大条目数
func (c *Config) SetL1MaxEntries(max int64) *Config {
	c.L1.MaxEntries = max
	return c
}

// Load 从配置文件和环境变量加载配置。
// path 为空时在 ./config 和 . 下查找 cached.yaml，找不到则使用默认值；
// path 非空时文件必须存在。环境变量以 CACHEKIT_ 为前缀，层级用下划线分隔，
// 如 CACHEKIT_REMOTE_REDIS_ADDR。返回的配置未经 Validate，
// 调用方应在应用完命令行覆盖后再校验。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cached")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("CACHEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 没有配置文件时使用默认值和环境变量
	}

	config := Default()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

// setDefaults 将默认值注册到 viper，使仅通过环境变量设置的键也能被识别。
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("l1.max_entries", defaults.L1.MaxEntries)
	v.SetDefault("l1.max_memory", defaults.L1.MaxMemory)
	v.SetDefault("l1.default_ttl", defaults.L1.DefaultTTL)
	v.SetDefault("l1.cleanup_interval", defaults.L1.CleanupInterval)

	v.SetDefault("remote.enabled", defaults.Remote.Enabled)
	v.SetDefault("remote.redis.addr", defaults.Remote.Redis.Addr)
	v.SetDefault("remote.redis.password", defaults.Remote.Redis.Password)
	v.SetDefault("remote.redis.db", defaults.Remote.Redis.DB)
	v.SetDefault("remote.redis.key_prefix", defaults.Remote.Redis.KeyPrefix)
	v.SetDefault("remote.redis.default_ttl", defaults.Remote.Redis.DefaultTTL)
	v.SetDefault("remote.redis.connect_timeout", defaults.Remote.Redis.ConnectTimeout)
	v.SetDefault("remote.redis.request_timeout", defaults.Remote.Redis.RequestTimeout)
	v.SetDefault("remote.redis.pool_size", defaults.Remote.Redis.PoolSize)
	v.SetDefault("remote.redis.breaker.name", defaults.Remote.Redis.Breaker.Name)
	v.SetDefault("remote.redis.breaker.max_requests", defaults.Remote.Redis.Breaker.MaxRequests)
	v.SetDefault("remote.redis.breaker.interval", defaults.Remote.Redis.Breaker.Interval)
	v.SetDefault("remote.redis.breaker.timeout", defaults.Remote.Redis.Breaker.Timeout)
	v.SetDefault("remote.redis.breaker.ready_to_trip", defaults.Remote.Redis.Breaker.ReadyToTrip)
	v.SetDefault("remote.redis.breaker.enabled", defaults.Remote.Redis.Breaker.Enabled)

	v.SetDefault("tiered.promote_ttl", defaults.Tiered.PromoteTTL)
	v.SetDefault("tiered.write_through", defaults.Tiered.WriteThrough)

	v.SetDefault("maintenance.enabled", defaults.Maintenance.Enabled)
	v.SetDefault("maintenance.sweep_schedule", defaults.Maintenance.SweepSchedule)
	v.SetDefault("maintenance.stats_report_schedule", defaults.Maintenance.StatsReportSchedule)
	v.SetDefault("maintenance.metrics_export_schedule", defaults.Maintenance.MetricsExportSchedule)
	v.SetDefault("maintenance.ping_schedule", defaults.Maintenance.PingSchedule)

	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.url", defaults.Metrics.URL)
	v.SetDefault("metrics.token", defaults.Metrics.Token)
	v.SetDefault("metrics.org", defaults.Metrics.Org)
	v.SetDefault("metrics.bucket", defaults.Metrics.Bucket)
	v.SetDefault("metrics.measurement", defaults.Metrics.Measurement)
	v.SetDefault("metrics.instance", defaults.Metrics.Instance)

	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)

	v.SetDefault("logger.level", defaults.Logger.Level)
	v.SetDefault("logger.format", defaults.Logger.Format)
}
