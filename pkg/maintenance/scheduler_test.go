package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingJob(counter *int64) JobFunc {
	return func(ctx context.Context) error {
		atomic.AddInt64(counter, 1)
		return nil
	}
}

func TestNewScheduler(t *testing.T) {
	scheduler := NewScheduler()

	assert.NotNil(t, scheduler)
	assert.NotNil(t, scheduler.cron)
	assert.NotNil(t, scheduler.jobs)
	assert.NotNil(t, scheduler.log)
	assert.NotNil(t, scheduler.ctx)
}

func TestScheduler_AddJob(t *testing.T) {
	scheduler := NewScheduler()
	var counter int64

	validJob := JobConfig{
		Name:     "test-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
	}

	// 测试添加有效任务
	err := scheduler.AddJob(validJob, countingJob(&counter))
	assert.NoError(t, err)

	// 验证任务已添加
	job, err := scheduler.GetJob("test-job")
	assert.NoError(t, err)
	assert.Equal(t, "test-job", job.Config.Name)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.NotEmpty(t, job.ID)

	// 测试添加重复任务
	err = scheduler.AddJob(validJob, countingJob(&counter))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务已存在")

	// 测试添加无效调度表达式的任务
	invalidJob := JobConfig{
		Name:     "invalid-job",
		Enabled:  true,
		Schedule: "invalid-cron",
	}
	err = scheduler.AddJob(invalidJob, countingJob(&counter))
	assert.Error(t, err)

	// 测试执行体为空
	err = scheduler.AddJob(JobConfig{
		Name:     "nil-fn-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
	}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "执行体不能为空")
}

func TestScheduler_RemoveJob(t *testing.T) {
	scheduler := NewScheduler()
	var counter int64

	job := JobConfig{
		Name:     "test-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
	}

	err := scheduler.AddJob(job, countingJob(&counter))
	require.NoError(t, err)

	// 测试移除存在的任务
	err = scheduler.RemoveJob("test-job")
	assert.NoError(t, err)

	// 验证任务已移除
	_, err = scheduler.GetJob("test-job")
	assert.Error(t, err)

	// 测试移除不存在的任务
	err = scheduler.RemoveJob("non-existent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务不存在")
}

func TestScheduler_GetAllJobs(t *testing.T) {
	scheduler := NewScheduler()
	var counter int64

	// 初始状态应该没有任务
	jobs := scheduler.GetAllJobs()
	assert.Len(t, jobs, 0)

	// 添加几个任务
	for i := 0; i < 3; i++ {
		job := JobConfig{
			Name:     fmt.Sprintf("test-job-%d", i),
			Enabled:  true,
			Schedule: "*/5 * * * * *",
		}
		err := scheduler.AddJob(job, countingJob(&counter))
		require.NoError(t, err)
	}

	// 验证返回所有任务
	jobs = scheduler.GetAllJobs()
	assert.Len(t, jobs, 3)

	// 验证返回的是副本，不会影响原始数据
	jobs[0].Status = JobStatusError
	originalJob, err := scheduler.GetJob(jobs[0].Config.Name)
	require.NoError(t, err)
	assert.NotEqual(t, JobStatusError, originalJob.Status)
}

func TestScheduler_RunJob(t *testing.T) {
	scheduler := NewScheduler()
	var counter int64

	job := JobConfig{
		Name:     "test-job",
		Enabled:  true,
		Schedule: "*/5 * * * * *",
	}

	err := scheduler.AddJob(job, countingJob(&counter))
	require.NoError(t, err)

	// 测试手动执行任务
	err = scheduler.RunJob("test-job")
	assert.NoError(t, err)

	// 等待任务执行完成
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&counter))

	// 测试执行不存在的任务
	err = scheduler.RunJob("non-existent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务不存在")

	// 测试执行禁用的任务
	disabledJob := JobConfig{
		Name:     "disabled-job",
		Enabled:  false,
		Schedule: "*/5 * * * * *",
	}
	err = scheduler.AddJob(disabledJob, countingJob(&counter))
	require.NoError(t, err)

	err = scheduler.RunJob("disabled-job")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "任务已禁用")
}

func TestScheduler_StartStop(t *testing.T) {
	scheduler := NewScheduler()

	err := scheduler.Start()
	assert.NoError(t, err)

	err = scheduler.Stop()
	assert.NoError(t, err)
}

func TestScheduler_validateJobConfig(t *testing.T) {
	scheduler := NewScheduler()

	tests := []struct {
		name        string
		config      JobConfig
		expectError bool
	}{
		{
			name: "有效配置",
			config: JobConfig{
				Name:     "valid-job",
				Schedule: "*/5 * * * * *",
			},
			expectError: false,
		},
		{
			name: "缺少任务名称",
			config: JobConfig{
				Name:     "",
				Schedule: "*/5 * * * * *",
			},
			expectError: true,
		},
		{
			name: "缺少调度表达式",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "",
			},
			expectError: true,
		},
		{
			name: "无效的调度表达式",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "invalid-cron",
			},
			expectError: true,
		},
		{
			name: "超时为负数",
			config: JobConfig{
				Name:     "test-job",
				Schedule: "*/5 * * * * *",
				Timeout:  -time.Second,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := scheduler.validateJobConfig(tt.config)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// 测试同一任务在运行中被再次触发时跳过
func TestScheduler_OverlapSkip(t *testing.T) {
	scheduler := NewScheduler()
	var counter int64

	slowJob := func(ctx context.Context) error {
		atomic.AddInt64(&counter, 1)
		time.Sleep(300 * time.Millisecond)
		return nil
	}

	err := scheduler.AddJob(JobConfig{
		Name:     "slow-job",
		Enabled:  true,
		Schedule: "0 0 * * * *",
	}, slowJob)
	require.NoError(t, err)

	require.NoError(t, scheduler.RunJob("slow-job"))
	time.Sleep(50 * time.Millisecond)
	// 第一次执行尚未结束，这次触发应该被跳过
	require.NoError(t, scheduler.RunJob("slow-job"))

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&counter))

	job, err := scheduler.GetJob("slow-job")
	require.NoError(t, err)
	assert.Equal(t, int64(1), job.RunCount)
}

// 测试任务失败后的状态与计数
func TestScheduler_JobErrorBookkeeping(t *testing.T) {
	scheduler := NewScheduler()

	failingJob := func(ctx context.Context) error {
		return errors.New("sweep failed")
	}

	err := scheduler.AddJob(JobConfig{
		Name:     "failing-job",
		Enabled:  true,
		Schedule: "0 0 * * * *",
	}, failingJob)
	require.NoError(t, err)

	require.NoError(t, scheduler.RunJob("failing-job"))
	time.Sleep(100 * time.Millisecond)

	job, err := scheduler.GetJob("failing-job")
	require.NoError(t, err)
	assert.Equal(t, JobStatusError, job.Status)
	assert.Equal(t, int64(1), job.ErrorCount)
	assert.EqualError(t, job.LastError, "sweep failed")

	// 下一次成功执行后恢复正常状态
	scheduler.mu.Lock()
	scheduler.jobs["failing-job"].fn = func(ctx context.Context) error { return nil }
	scheduler.mu.Unlock()

	require.NoError(t, scheduler.RunJob("failing-job"))
	time.Sleep(100 * time.Millisecond)

	job, err = scheduler.GetJob("failing-job")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Nil(t, job.LastError)
	assert.Equal(t, int64(1), job.ErrorCount)
}

func TestScheduler_Integration(t *testing.T) {
	scheduler := NewScheduler()
	var counter int64

	err := scheduler.AddJob(JobConfig{
		Name:     "integration-job",
		Enabled:  true,
		Schedule: "*/1 * * * * *", // 每秒执行一次
	}, countingJob(&counter))
	require.NoError(t, err)

	err = scheduler.Start()
	require.NoError(t, err)

	// 等待任务执行几次
	time.Sleep(2500 * time.Millisecond)

	err = scheduler.Stop()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&counter), int64(2), "任务应该至少执行2次")

	job, err := scheduler.GetJob("integration-job")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, job.RunCount, int64(2))
	assert.NotNil(t, job.LastRun)
	assert.NotNil(t, job.NextRun)
}
