package extlang

import (
	"errors"
	"fmt"
)

// ErrorKind 定义适配层统一的错误类别。
type ErrorKind string

const (
	ErrInit       ErrorKind = "init"
	ErrConversion ErrorKind = "conversion"
	ErrResolution ErrorKind = "resolution"
	ErrRuntime    ErrorKind = "runtime"
	ErrUsage      ErrorKind = "usage"
	ErrCancelled  ErrorKind = "cancelled"
	ErrInternal   ErrorKind = "internal"
)

// MaxErrLen 是对宿主报告的错误消息长度上限。
// 超长消息截断而不是丢弃，对应宏语言侧固定大小的错误缓冲。
const MaxErrLen = 1024

// LangError 是适配层返回的统一错误结构。
// 所有失败都在适配器边界被捕获并转成该结构，不会以原始故障穿透到宿主。
type LangError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *LangError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return string(e.Kind) + ": " + e.Message
	}
	return string(e.Kind)
}

func (e *LangError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError 构造带类别的错误，消息按 MaxErrLen 截断。
func NewError(kind ErrorKind, format string, args ...any) *LangError {
	return &LangError{Kind: kind, Message: TruncateMessage(fmt.Sprintf(format, args...))}
}

// WrapError 同 NewError，但保留底层原因。
func WrapError(kind ErrorKind, cause error, format string, args ...any) *LangError {
	return &LangError{
		Kind:    kind,
		Message: TruncateMessage(fmt.Sprintf(format, args...)),
		Cause:   cause,
	}
}

// TruncateMessage 把消息限制在 MaxErrLen 以内。
func TruncateMessage(s string) string {
	if len(s) <= MaxErrLen {
		return s
	}
	return s[:MaxErrLen-3] + "..."
}

// KindOf 取出错误类别；非 LangError 一律归为 internal。
func KindOf(err error) ErrorKind {
	var le *LangError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ErrInternal
}

// IsCancelled 判断错误是否为用户取消/超时中断。
func IsCancelled(err error) bool {
	return KindOf(err) == ErrCancelled
}
