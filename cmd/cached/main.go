package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cachekit/pkg/cache"
	"cachekit/pkg/config"
	"cachekit/pkg/logger"
	"cachekit/pkg/maintenance"
	"cachekit/pkg/metrics"
)

var (
	logLevel    = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，覆盖配置文件")
	logFormat   = flag.String("log-format", "", "日志格式 (json or text)，覆盖配置文件")
	configPath  = flag.String("config", "", "配置文件路径 (例如 /app/config/cached.yaml)")
	redisAddr   = flag.String("redis", "", "Redis 地址，格式 host:port")
	redisPass   = flag.String("redis-pass", "", "Redis 密码")
	listenPort  = flag.Int("port", 0, "HTTP 监听端口")
	influxURL   = flag.String("influxdb-url", "", "InfluxDB URL")
	influxToken = flag.String("influxdb-token", "", "InfluxDB token")
)

// CacheServer 对外提供两级缓存的 HTTP 访问入口。
// 适合以 sidecar 方式使用缓存的进程；希望零网络开销的进程仍可直接内嵌 pkg/cache。
type CacheServer struct {
	cfg       *config.Config
	l1        *cache.MemoryCache
	redis     *cache.RedisCache // 远程层未启用时为 nil
	tiered    *cache.TieredCache
	reporter  *metrics.Reporter // 指标导出未启用时为 nil
	scheduler *maintenance.Scheduler
	logger    *logrus.Entry
	server    *http.Server
	started   time.Time
}

// SetRequest PUT /api/v1/cache/:key 的请求体。
// ttl_seconds 缺省时使用 L1 默认 TTL；显式 <=0 等价于删除该键。
type SetRequest struct {
	Value      interface{} `json:"value"`
	TTLSeconds *int64      `json:"ttl_seconds"`
}

type EntryResponse struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("加载配置失败")
	}

	// 命令行参数覆盖（仅在提供时生效）
	if *logLevel != "" {
		cfg.SetLogLevel(*logLevel)
	}
	if *logFormat != "" {
		cfg.Logger.Format = *logFormat
	}
	if *redisAddr != "" {
		cfg.SetRedisAddr(*redisAddr)
	}
	if *redisPass != "" {
		cfg.SetRedisPassword(*redisPass)
	}
	if *listenPort != 0 {
		cfg.SetPort(*listenPort)
	}
	if *influxURL != "" {
		cfg.Metrics.URL = *influxURL
	}
	if *influxToken != "" {
		cfg.Metrics.Token = *influxToken
	}

	if err := cfg.Validate(); err != nil {
		logger.GetLogger().WithError(err).Fatal("配置校验失败")
	}

	logger.Init(cfg.Logger)
	log := logger.WithComponent("cached")

	if cfg.Logger.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewCacheServer(cfg)
	if err != nil {
		log.WithError(err).Fatal("创建缓存服务失败")
	}
	defer server.Close()

	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("启动缓存服务失败")
	}

	// 等待退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("正在关闭缓存服务...")
	server.Stop()
}

// NewCacheServer 按配置组装 L1、L2、协调器、指标导出与维护任务。
// 远程层连接失败只告警，服务以降级模式（纯 L1）继续启动。
func NewCacheServer(cfg *config.Config) (*CacheServer, error) {
	log := logger.WithComponent("cached")

	l1 := cache.NewMemoryCache(cfg.L1)

	var remote cache.RemoteCache
	var redisCache *cache.RedisCache
	if cfg.Remote.Enabled {
		redisCache = cache.NewRedisCache(cfg.Remote.Redis)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Redis.ConnectTimeout)
		if err := redisCache.Connect(ctx); err != nil {
			log.WithError(err).Warn("远程缓存连接失败，以降级模式启动")
		}
		cancel()
		remote = redisCache
	}

	tiered := cache.NewTieredCache(l1, remote, cfg.Tiered)

	var reporter *metrics.Reporter
	if cfg.Metrics.Enabled {
		reporter = metrics.NewReporter(cfg.Metrics)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := reporter.Health(ctx); err != nil {
			log.WithError(err).Warn("指标后端不可用，导出将在后端恢复后生效")
		}
		cancel()
	}

	s := &CacheServer{
		cfg:      cfg,
		l1:       l1,
		redis:    redisCache,
		tiered:   tiered,
		reporter: reporter,
		logger:   log,
		started:  time.Now(),
	}

	if cfg.Maintenance.Enabled {
		scheduler, err := buildScheduler(cfg, s)
		if err != nil {
			tiered.Close()
			return nil, fmt.Errorf("failed to build maintenance scheduler: %w", err)
		}
		s.scheduler = scheduler
	}

	return s, nil
}

// buildScheduler 注册清扫、统计、指标导出与探活任务。
func buildScheduler(cfg *config.Config, s *CacheServer) (*maintenance.Scheduler, error) {
	type jobSpec struct {
		config maintenance.JobConfig
		fn     maintenance.JobFunc
	}

	jobs := []jobSpec{
		{
			config: maintenance.JobConfig{
				Name:     "sweep",
				Enabled:  true,
				Schedule: cfg.Maintenance.SweepSchedule,
				Timeout:  30 * time.Second,
			},
			fn: maintenance.SweepJob(s.l1),
		},
		{
			config: maintenance.JobConfig{
				Name:     "stats_report",
				Enabled:  true,
				Schedule: cfg.Maintenance.StatsReportSchedule,
				Timeout:  10 * time.Second,
			},
			fn: maintenance.StatsReportJob(s.tiered),
		},
	}

	if s.reporter != nil {
		jobs = append(jobs, jobSpec{
			config: maintenance.JobConfig{
				Name:     "metrics_export",
				Enabled:  true,
				Schedule: cfg.Maintenance.MetricsExportSchedule,
				Timeout:  15 * time.Second,
			},
			fn: maintenance.MetricsExportJob(s.tiered, s.reporter),
		})
	}

	if s.redis != nil {
		jobs = append(jobs, jobSpec{
			config: maintenance.JobConfig{
				Name:     "remote_ping",
				Enabled:  true,
				Schedule: cfg.Maintenance.PingSchedule,
				Timeout:  10 * time.Second,
			},
			fn: maintenance.PingJob(s.redis),
		})
	}

	scheduler := maintenance.NewScheduler()
	for _, job := range jobs {
		if err := scheduler.AddJob(job.config, job.fn); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}

func (s *CacheServer) Start() error {
	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(s.corsMiddleware())

	// Health check
	router.GET("/health", s.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.GET("/cache/:key", s.getEntry)
		v1.PUT("/cache/:key", s.setEntry)
		v1.DELETE("/cache/:key", s.deleteEntry)
		v1.POST("/cache/flush", s.flushCache)
	}

	// 监控和指标端点
	router.GET("/metrics", s.getMetrics)
	router.GET("/stats", s.getStats)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	s.logger.WithField("addr", addr).Info("正在启动缓存服务...")

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP 服务启动失败")
		}
	}()

	return nil
}

func (s *CacheServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("HTTP 服务关闭失败")
	}

	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			s.logger.WithError(err).Error("维护任务调度器关闭失败")
		}
	}
}

func (s *CacheServer) Close() {
	if s.reporter != nil {
		s.reporter.Close()
	}
	if s.tiered != nil {
		s.tiered.Close()
	}
}

func (s *CacheServer) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// healthCheck 汇报各组件状态。
// L1 始终可服务，远程层故障只标记 degraded，不返回 5xx。
func (s *CacheServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"services":  map[string]string{},
	}

	services := health["services"].(map[string]string)
	services["l1"] = "ok"

	// Check Redis
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil {
			services["redis"] = "error: " + err.Error()
			health["status"] = "degraded"
		} else {
			services["redis"] = "ok"
		}
		services["redis_breaker"] = s.redis.BreakerState().String()
	} else {
		services["redis"] = "disabled"
	}

	// Check InfluxDB
	if s.reporter != nil {
		if err := s.reporter.Health(ctx); err != nil {
			services["influxdb"] = "error: " + err.Error()
			health["status"] = "degraded"
		} else {
			services["influxdb"] = "ok"
		}
	} else {
		services["influxdb"] = "disabled"
	}

	c.JSON(200, health)
}

func (s *CacheServer) getEntry(c *gin.Context) {
	key := c.Param("key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	value, err := s.tiered.Get(ctx, key)
	if err != nil {
		switch {
		case cache.IsInvalidKey(err):
			c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Key is required"})
		case cache.IsMiss(err):
			c.JSON(404, ErrorResponse{Error: "not_found", Message: "Key not found"})
		default:
			s.logger.WithError(err).WithField("key", key).Error("读取缓存失败")
			c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to retrieve data"})
		}
		return
	}

	c.JSON(200, EntryResponse{Key: key, Value: value})
}

func (s *CacheServer) setEntry(c *gin.Context) {
	key := c.Param("key")

	var req SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Invalid request body"})
		return
	}

	ttl := s.cfg.L1.DefaultTTL
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.tiered.Set(ctx, key, req.Value, ttl); err != nil {
		if cache.IsInvalidKey(err) {
			c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Key is required"})
			return
		}
		s.logger.WithError(err).WithField("key", key).Error("写入缓存失败")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to store data"})
		return
	}

	c.Status(204)
}

func (s *CacheServer) deleteEntry(c *gin.Context) {
	key := c.Param("key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.tiered.Delete(ctx, key); err != nil {
		if cache.IsInvalidKey(err) {
			c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Key is required"})
			return
		}
		s.logger.WithError(err).WithField("key", key).Error("删除缓存失败")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to delete data"})
		return
	}

	c.Status(204)
}

// flushCache 清空本进程的 L1 层。共享的 L2 不受影响。
func (s *CacheServer) flushCache(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.tiered.Clear(ctx); err != nil {
		s.logger.WithError(err).Error("清空缓存失败")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to flush cache"})
		return
	}

	s.logger.Info("L1 缓存已清空")
	c.Status(204)
}

// getMetrics 获取扁平化的缓存指标
func (s *CacheServer) getMetrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := s.tiered.Stats()

	resp := map[string]interface{}{
		"timestamp": time.Now(),
		"cache": map[string]interface{}{
			"l1_hits":             st.L1Hits,
			"l2_hits":             st.L2Hits,
			"total_hits":          st.TotalHits,
			"total_misses":        st.TotalMisses,
			"hit_rate":            st.HitRate,
			"promote_count":       st.PromoteCount,
			"write_through_fails": st.WriteThroughFails,
			"discard_count":       st.DiscardCount,
			"remote_errors":       st.RemoteErrors,
			"remote_connected":    st.RemoteConnected,
			"l1_size":             st.L1.Size,
			"l1_memory_bytes":     st.L1.MemoryBytes,
		},
	}

	// 获取Redis状态
	if s.redis != nil {
		if err := s.redis.Ping(ctx); err == nil {
			resp["redis"] = map[string]interface{}{
				"status":  "connected",
				"breaker": s.redis.BreakerState().String(),
			}
		} else {
			resp["redis"] = map[string]interface{}{
				"status":  "error",
				"error":   err.Error(),
				"breaker": s.redis.BreakerState().String(),
			}
		}
	} else {
		resp["redis"] = map[string]interface{}{
			"status": "disabled",
		}
	}

	// 获取InfluxDB健康状态
	if s.reporter != nil {
		if err := s.reporter.Health(ctx); err == nil {
			resp["influxdb"] = map[string]interface{}{
				"status": "ok",
			}
		} else {
			resp["influxdb"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		resp["influxdb"] = map[string]interface{}{
			"status": "disabled",
		}
	}

	c.JSON(200, resp)
}

// getStats 获取完整的统计快照与维护任务状态
func (s *CacheServer) getStats(c *gin.Context) {
	stats := map[string]interface{}{
		"timestamp": time.Now(),
		"uptime":    time.Since(s.started).String(),
		"cache":     s.tiered.Stats(),
	}

	if s.scheduler != nil {
		jobs := s.scheduler.GetAllJobs()
		summaries := make([]map[string]interface{}, 0, len(jobs))
		for _, job := range jobs {
			summary := map[string]interface{}{
				"name":        job.Config.Name,
				"status":      string(job.Status),
				"schedule":    job.Config.Schedule,
				"run_count":   job.RunCount,
				"error_count": job.ErrorCount,
			}
			if job.LastRun != nil {
				summary["last_run"] = job.LastRun
			}
			if job.NextRun != nil {
				summary["next_run"] = job.NextRun
			}
			if job.LastError != nil {
				summary["last_error"] = job.LastError.Error()
			}
			summaries = append(summaries, summary)
		}
		stats["jobs"] = summaries
	}

	c.JSON(200, stats)
}
