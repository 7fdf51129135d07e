package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode 是一个字符串类型，用于表示缓存子系统中所有预定义的错误类别。
type ErrorCode string

// 标准错误代码常量定义了缓存操作中可能出现的各种错误。
const (
	// ErrCacheMiss 表示在任何一层缓存中均未找到请求的条目。
	ErrCacheMiss ErrorCode = "CACHE_MISS"
	// ErrInvalidKey 表示调用方提供的键不合法（如空键）。
	ErrInvalidKey ErrorCode = "INVALID_KEY"
	// ErrRemoteUnavailable 表示远程缓存暂时不可用（连接失败、熔断器打开等）。
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	// ErrRemoteTimeout 表示远程缓存操作超时。
	ErrRemoteTimeout ErrorCode = "REMOTE_TIMEOUT"
	// ErrSerializeFailed 表示值序列化失败，无法写入远程缓存。
	ErrSerializeFailed ErrorCode = "SERIALIZE_FAILED"
	// ErrDeserializeFailed 表示远程缓存返回的数据无法反序列化。
	ErrDeserializeFailed ErrorCode = "DESERIALIZE_FAILED"
	// ErrCacheClosed 表示尝试访问已关闭的缓存实例。
	ErrCacheClosed ErrorCode = "CACHE_CLOSED"
	// ErrConfigInvalid 表示缓存配置无效。
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
)

// CacheError 是缓存子系统的自定义错误类型。
// 它包含了错误代码、消息、可选的原始错误(cause)和附加上下文信息。
type CacheError struct {
	Code      ErrorCode              `json:"code"`              // 错误的分类代码
	Message   string                 `json:"message"`           // 人类可读的错误信息
	Cause     error                  `json:"-"`                 // 导致此错误的原始错误
	Context   map[string]interface{} `json:"context,omitempty"` // 额外的上下文信息
	Timestamp time.Time              `json:"timestamp"`         // 错误发生的时间戳
}

// Error 实现了 Go 内置的 error 接口。
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 实现了 Go 1.13+ 的错误包装接口，允许访问被包装的原始错误(Cause)。
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is 实现了错误判断接口，用于判断一个错误是否与目标错误具有相同的错误代码。
func (e *CacheError) Is(target error) bool {
	var cacheErr *CacheError
	if errors.As(target, &cacheErr) {
		return e.Code == cacheErr.Code
	}
	return false
}

// WithContext 为错误附加一个键值对形式的上下文信息。
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewCacheError 创建一个新的 CacheError。
func NewCacheError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError 将一个已有的 error 包装成一个新的 CacheError。
func WrapError(code ErrorCode, message string, cause error) *CacheError {
	return &CacheError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// 预定义的常用错误实例
var (
	ErrCacheMissNotFound = NewCacheError(ErrCacheMiss, "cache entry not found")
	ErrEmptyKey          = NewCacheError(ErrInvalidKey, "cache key must not be empty")
	ErrRemoteDown        = NewCacheError(ErrRemoteUnavailable, "remote cache unavailable")
	ErrAlreadyClosed     = NewCacheError(ErrCacheClosed, "cache is closed")
)

// IsMiss 判断一个错误是否表示缓存未命中。
func IsMiss(err error) bool {
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return cacheErr.Code == ErrCacheMiss
	}
	return false
}

// IsInvalidKey 判断一个错误是否由非法键引起。
func IsInvalidKey(err error) bool {
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return cacheErr.Code == ErrInvalidKey
	}
	return false
}

// IsRemoteUnavailable 判断一个错误是否表示远程缓存不可用（含超时）。
func IsRemoteUnavailable(err error) bool {
	var cacheErr *CacheError
	if errors.As(err, &cacheErr) {
		return cacheErr.Code == ErrRemoteUnavailable || cacheErr.Code == ErrRemoteTimeout
	}
	return false
}
