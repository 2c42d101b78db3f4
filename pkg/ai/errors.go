package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind 是提供商错误的分类，决定调用方的重试与上报策略。
type ErrorKind string

const (
	// KindValidation 表示输入本身不合法（不支持的文件类型、空文本等），不重试。
	KindValidation ErrorKind = "validation"
	// KindTransient 表示瞬时失败（超时、限流、5xx），可有限重试。
	KindTransient ErrorKind = "transient-provider"
	// KindTransientExhausted 表示瞬时失败重试次数已耗尽。
	KindTransientExhausted ErrorKind = "transient-provider-exhausted"
	// KindPermanent 表示永久失败（凭证无效、内容被拒），立即失败不重试。
	KindPermanent ErrorKind = "permanent-provider"
	// KindResourceExhausted 表示配额或容量耗尽，调用方应独立退避。
	KindResourceExhausted ErrorKind = "resource-exhausted"
)

// Error 携带错误分类与提供商名称的错误类型。
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: [%s] %v", e.Kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError 构造一个带分类的提供商错误。
func NewError(kind ErrorKind, provider string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Errorf 构造一个带分类的格式化错误。
func Errorf(kind ErrorKind, provider, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回错误的分类。未分类的网络超时按瞬时处理，其余未知错误按永久处理。
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// IsTransient 报告错误是否值得重试。
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// KindFromStatus 将 HTTP 状态码映射为错误分类。
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindTransient
	case status == 402 || status == 507:
		return KindResourceExhausted
	case status >= 500:
		return KindTransient
	default:
		// 400/401/403/404/422 等均视为永久失败
		return KindPermanent
	}
}
