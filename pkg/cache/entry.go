package cache

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

const (
	// entryOverhead 是每个条目除键值外的固定账面开销（指针、时间戳、计数器）。
	entryOverhead = 96
	// defaultValueSize 是无法序列化估算时使用的默认值大小。
	defaultValueSize = 64
)

// Entry 代表缓存中的一个条目。
// 除最后访问时间与命中计数外，条目在构造后不可变；
// 重复 Set 同一个键会构造全新条目并整体替换旧指针，读取方不会观察到半更新状态。
type Entry struct {
	Key        string      // 缓存键
	Value      interface{} // 缓存的值
	CreateTime time.Time   // 创建时间
	ExpireTime time.Time   // 过期时间
	Size       int64       // 条目大小（字节，近似值）

	accessNano int64 // 最后访问时间（unix 纳秒，原子更新）
	hitCount   int64 // 命中次数（原子更新）
}

// NewEntry 构造一个新条目。过期时间由 ttl 相对当前时间计算。
func NewEntry(key string, value interface{}, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Key:        key,
		Value:      value,
		CreateTime: now,
		ExpireTime: now.Add(ttl),
		Size:       sizeOf(key, value),
		accessNano: now.UnixNano(),
	}
}

// Expired 判断条目在 now 时刻是否已过期。
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpireTime.Before(now)
}

// Touch 原子地记录一次访问。
func (e *Entry) Touch(now time.Time) {
	atomic.StoreInt64(&e.accessNano, now.UnixNano())
	atomic.AddInt64(&e.hitCount, 1)
}

// AccessTime 返回最后访问时间。
func (e *Entry) AccessTime() time.Time {
	return time.Unix(0, atomic.LoadInt64(&e.accessNano))
}

// HitCount 返回条目被命中的次数。
func (e *Entry) HitCount() int64 {
	return atomic.LoadInt64(&e.hitCount)
}

// lastAccessNano 返回最后访问时间的原始纳秒值，供淘汰排序使用。
func (e *Entry) lastAccessNano() int64 {
	return atomic.LoadInt64(&e.accessNano)
}

// sizeOf 估算一个条目占用的字节数：键长 + 值的序列化长度 + 固定开销。
func sizeOf(key string, value interface{}) int64 {
	return int64(len(key)) + valueSize(value) + entryOverhead
}

// valueSize 估算值的序列化大小。
// 字符串和字节切片直接取长度，其余类型按 JSON 编码长度估算。
func valueSize(value interface{}) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	default:
		if b, err := json.Marshal(value); err == nil {
			return int64(len(b))
		}
		return defaultValueSize
	}
}
