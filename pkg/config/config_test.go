package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefault 测试默认配置是否正确
func TestDefault(t *testing.T) {
	cfg := Default()

	// 验证默认配置值
	assert.Equal(t, int64(10000), cfg.L1.MaxEntries)
	assert.Equal(t, int64(64<<20), cfg.L1.MaxMemory)
	assert.Equal(t, 5*time.Minute, cfg.L1.DefaultTTL)
	assert.Equal(t, 1*time.Minute, cfg.L1.CleanupInterval)

	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Remote.Redis.Addr)
	assert.Equal(t, 0, cfg.Remote.Redis.DB)
	assert.Equal(t, "cachekit:", cfg.Remote.Redis.KeyPrefix)
	assert.Equal(t, 10*time.Minute, cfg.Remote.Redis.DefaultTTL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Redis.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Remote.Redis.RequestTimeout)
	assert.Equal(t, 10, cfg.Remote.Redis.PoolSize)
	assert.True(t, cfg.Remote.Redis.Breaker.Enabled)
	assert.Equal(t, uint32(5), cfg.Remote.Redis.Breaker.ReadyToTrip)

	assert.Equal(t, 5*time.Minute, cfg.Tiered.PromoteTTL)
	assert.True(t, cfg.Tiered.WriteThrough)

	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, "0 * * * * *", cfg.Maintenance.SweepSchedule)

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "http://localhost:8086", cfg.Metrics.URL)
	assert.Equal(t, "cache_metrics", cfg.Metrics.Bucket)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "text", cfg.Logger.Format)
}

// TestValidate 测试配置验证功能
func TestValidate(t *testing.T) {
	// 测试有效的默认配置
	cfg := Default()
	assert.NoError(t, cfg.Validate(), "默认配置应该是有效的")

	// 测试L1条目数为负数的情况
	cfg = Default()
	cfg.L1.MaxEntries = -1
	assert.Error(t, cfg.Validate(), "L1条目数为负数时应该返回错误")

	// 测试L1完全无界的情况
	cfg = Default()
	cfg.L1.MaxEntries = 0
	cfg.L1.MaxMemory = 0
	assert.Error(t, cfg.Validate(), "L1必须有条目数或内存上限")

	// 仅有内存上限是合法的
	cfg = Default()
	cfg.L1.MaxEntries = 0
	assert.NoError(t, cfg.Validate())

	// 测试L1默认TTL小于等于0的情况
	cfg = Default()
	cfg.L1.DefaultTTL = 0
	assert.Error(t, cfg.Validate(), "L1默认TTL小于等于0时应该返回错误")

	// 测试清理间隔为负数的情况
	cfg = Default()
	cfg.L1.CleanupInterval = -1 * time.Second
	assert.Error(t, cfg.Validate(), "清理间隔为负数时应该返回错误")

	// 测试启用远程缓存但地址为空的情况
	cfg = Default()
	cfg.Remote.Redis.Addr = ""
	assert.Error(t, cfg.Validate(), "启用远程缓存时地址不能为空")

	// 关闭远程缓存后地址为空是合法的
	cfg = Default()
	cfg.Remote.Enabled = false
	cfg.Remote.Redis.Addr = ""
	assert.NoError(t, cfg.Validate())

	// 测试Redis超时配置
	cfg = Default()
	cfg.Remote.Redis.ConnectTimeout = 0
	assert.Error(t, cfg.Validate(), "连接超时小于等于0时应该返回错误")

	cfg = Default()
	cfg.Remote.Redis.RequestTimeout = -1 * time.Second
	assert.Error(t, cfg.Validate(), "请求超时小于等于0时应该返回错误")

	// 测试熔断器阈值
	cfg = Default()
	cfg.Remote.Redis.Breaker.ReadyToTrip = 0
	assert.Error(t, cfg.Validate(), "熔断阈值为0时应该返回错误")

	// 测试提升TTL
	cfg = Default()
	cfg.Tiered.PromoteTTL = 0
	assert.Error(t, cfg.Validate(), "提升TTL小于等于0时应该返回错误")

	// 测试维护任务调度表达式为空的情况
	cfg = Default()
	cfg.Maintenance.SweepSchedule = ""
	assert.Error(t, cfg.Validate(), "清扫调度表达式不能为空")

	// 测试启用指标导出但URL为空的情况
	cfg = Default()
	cfg.Metrics.Enabled = true
	cfg.Metrics.URL = ""
	assert.Error(t, cfg.Validate(), "启用指标导出时URL不能为空")

	// 测试端口范围
	cfg = Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate(), "端口为0时应该返回错误")

	cfg = Default()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate(), "端口超出范围时应该返回错误")
}

// TestSetRedisAddr 测试设置Redis地址的方法
func TestSetRedisAddr(t *testing.T) {
	cfg := Default()
	result := cfg.SetRedisAddr("redis.internal:6380")

	// 验证返回的是同一个对象（支持链式调用）
	assert.Equal(t, cfg, result, "应该返回同一个配置对象以支持链式调用")
	assert.Equal(t, "redis.internal:6380", cfg.Remote.Redis.Addr)
}

// TestSetPort 测试设置服务端口的方法
func TestSetPort(t *testing.T) {
	cfg := Default()
	result := cfg.SetPort(9090)

	assert.Equal(t, cfg, result, "应该返回同一个配置对象以支持链式调用")
	assert.Equal(t, 9090, cfg.Server.Port)
}

// TestSetLogLevel 测试设置日志级别的方法
func TestSetLogLevel(t *testing.T) {
	cfg := Default()
	result := cfg.SetLogLevel("debug")

	assert.Equal(t, cfg, result, "应该返回同一个配置对象以支持链式调用")
	assert.Equal(t, "debug", cfg.Logger.Level)
}

// TestSetterChaining 测试链式调用
func TestSetterChaining(t *testing.T) {
	cfg := Default().
		SetRedisAddr("10.0.0.5:6379").
		SetRedisPassword("secret").
		SetL1MaxEntries(500).
		SetPort(8888).
		SetLogLevel("warn")

	assert.Equal(t, "10.0.0.5:6379", cfg.Remote.Redis.Addr)
	assert.Equal(t, "secret", cfg.Remote.Redis.Password)
	assert.Equal(t, int64(500), cfg.L1.MaxEntries)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.NoError(t, cfg.Validate())
}

// TestLoad_FromFile 测试从YAML文件加载配置
func TestLoad_FromFile(t *testing.T) {
	content := `
l1:
  max_entries: 500
  default_ttl: 30s
remote:
  enabled: false
  redis:
    addr: redis.test:6379
server:
  port: 9090
logger:
  level: debug
`
	path := filepath.Join(t.TempDir(), "cached.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	assert.NoError(t, err)

	// 文件中的值覆盖默认值
	assert.Equal(t, int64(500), cfg.L1.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.L1.DefaultTTL)
	assert.False(t, cfg.Remote.Enabled)
	assert.Equal(t, "redis.test:6379", cfg.Remote.Redis.Addr)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logger.Level)

	// 未出现在文件中的键保持默认值
	assert.Equal(t, int64(64<<20), cfg.L1.MaxMemory)
	assert.Equal(t, 10*time.Minute, cfg.Remote.Redis.DefaultTTL)
	assert.True(t, cfg.Tiered.WriteThrough)
}

// TestLoad_NoFileUsesDefaults 测试找不到配置文件时回退到默认值
func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoad_MissingExplicitFile 测试显式指定的配置文件必须存在
func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// TestLoad_EnvOverride 测试环境变量覆盖
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CACHEKIT_REMOTE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("CACHEKIT_L1_MAX_ENTRIES", "250")
	t.Setenv("CACHEKIT_LOGGER_LEVEL", "error")

	cfg, err := Load("")
	assert.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Remote.Redis.Addr)
	assert.Equal(t, int64(250), cfg.L1.MaxEntries)
	assert.Equal(t, "error", cfg.Logger.Level)
}

// TestLoad_EnvOverridesFile 测试环境变量优先级高于配置文件
func TestLoad_EnvOverridesFile(t *testing.T) {
	content := `
server:
  port: 9090
`
	path := filepath.Join(t.TempDir(), "cached.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("CACHEKIT_SERVER_PORT", "7070")

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}
