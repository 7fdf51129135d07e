// Package maintenance 承载缓存的后台维护任务：过期清扫、统计日志、指标导出、远端探活。
// 任务以带秒的 cron 表达式调度，单个任务内部串行（上次未结束则跳过本次）。
package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// JobConfig 定义单个维护任务的配置
type JobConfig struct {
	Name     string        `yaml:"name" json:"name"`
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Schedule string        `yaml:"schedule" json:"schedule"` // 带秒的六段 cron 表达式
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`   // 单次执行超时，0 表示默认1分钟
}

// JobFunc 是一次维护任务的执行体
type JobFunc func(ctx context.Context) error

// Job 表示一个运行中的任务
type Job struct {
	ID         string
	Config     JobConfig
	EntryID    cron.EntryID
	Status     JobStatus
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	ErrorCount int64
	LastError  error

	fn JobFunc
}

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusError    JobStatus = "error"
	JobStatusDisabled JobStatus = "disabled"
)
