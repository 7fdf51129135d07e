package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// 测试统计收集器的计数与快照合并
func TestStatsCollector_RecordAndSnapshot(t *testing.T) {
	sc := NewStatsCollector()

	sc.RecordL1Hit()
	sc.RecordL1Hit()
	sc.RecordL2Hit()
	sc.RecordMiss()
	sc.RecordPromote()
	sc.RecordWriteThroughFail()
	sc.RecordDiscard()
	sc.RecordRemoteError()

	l1 := TierStats{Size: 10, HitCount: 2}
	l2 := TierStats{Size: 100, HitCount: 1}

	stats := sc.Snapshot(l1, l2, true)

	assert.Equal(t, int64(2), stats.L1Hits)
	assert.Equal(t, int64(1), stats.L2Hits)
	assert.Equal(t, int64(3), stats.TotalHits)
	assert.Equal(t, int64(1), stats.TotalMisses)
	assert.Equal(t, 0.75, stats.HitRate)
	assert.Equal(t, int64(1), stats.PromoteCount)
	assert.Equal(t, int64(1), stats.WriteThroughFails)
	assert.Equal(t, int64(1), stats.DiscardCount)
	assert.Equal(t, int64(1), stats.RemoteErrors)
	assert.True(t, stats.RemoteConnected)
	assert.False(t, stats.CollectedAt.IsZero())

	// 各层统计原样并入快照
	assert.Equal(t, l1, stats.L1)
	assert.Equal(t, l2, stats.L2)
}

// 测试无任何读取时命中率为0而不是NaN
func TestStatsCollector_ZeroLookups(t *testing.T) {
	sc := NewStatsCollector()

	stats := sc.Snapshot(TierStats{}, TierStats{}, false)

	assert.Equal(t, int64(0), stats.TotalHits)
	assert.Equal(t, int64(0), stats.TotalMisses)
	assert.Equal(t, float64(0), stats.HitRate)
	assert.False(t, stats.RemoteConnected)
}

// 测试Reset归零所有计数器
func TestStatsCollector_Reset(t *testing.T) {
	sc := NewStatsCollector()

	sc.RecordL1Hit()
	sc.RecordL2Hit()
	sc.RecordMiss()
	sc.RecordPromote()
	sc.RecordWriteThroughFail()
	sc.RecordDiscard()
	sc.RecordRemoteError()

	sc.Reset()

	stats := sc.Snapshot(TierStats{}, TierStats{}, false)
	assert.Equal(t, int64(0), stats.L1Hits)
	assert.Equal(t, int64(0), stats.L2Hits)
	assert.Equal(t, int64(0), stats.TotalMisses)
	assert.Equal(t, int64(0), stats.PromoteCount)
	assert.Equal(t, int64(0), stats.WriteThroughFails)
	assert.Equal(t, int64(0), stats.DiscardCount)
	assert.Equal(t, int64(0), stats.RemoteErrors)
	assert.Equal(t, float64(0), stats.HitRate)
}

// 测试并发记录不丢计数
func TestStatsCollector_ConcurrentRecording(t *testing.T) {
	sc := NewStatsCollector()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				sc.RecordL1Hit()
				sc.RecordMiss()
			}
		}()
	}
	wg.Wait()

	stats := sc.Snapshot(TierStats{}, TierStats{}, false)
	assert.Equal(t, int64(10000), stats.TotalHits)
	assert.Equal(t, int64(10000), stats.TotalMisses)
	assert.Equal(t, 0.5, stats.HitRate)
}
