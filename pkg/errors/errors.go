package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误原因，面向调用方的稳定标识
const (
	ReasonCacheUnavailable     = "cache_unavailable"
	ReasonRateLimited          = "rate_limited"
	ReasonInvalidOrExpiredCode = "invalid_or_expired_code"
	ReasonCodeMismatch         = "code_mismatch"
	ReasonValidation           = "validation_error"
	ReasonNotFound             = "not_found"
	ReasonUnavailable          = "unavailable"
	ReasonDeliveryFailed       = "delivery_failed"
	ReasonUnauthorized         = "unauthorized"
	ReasonForbidden            = "forbidden"
	ReasonInternal             = "internal_error"
)

// 预定义错误
var (
	ErrCacheUnavailable     = New(http.StatusServiceUnavailable, ReasonCacheUnavailable, "缓存服务不可用，请稍后重试")
	ErrRateLimited          = New(http.StatusTooManyRequests, ReasonRateLimited, "请求过于频繁，请稍后重试")
	ErrInvalidOrExpiredCode = New(http.StatusBadRequest, ReasonInvalidOrExpiredCode, "验证码无效或已过期")
	ErrCodeMismatch         = New(http.StatusBadRequest, ReasonCodeMismatch, "验证码错误")
	ErrValidation           = New(http.StatusUnprocessableEntity, ReasonValidation, "验证错误")
	ErrNotFound             = New(http.StatusNotFound, ReasonNotFound, "资源不存在")
	ErrUnavailable          = New(http.StatusServiceUnavailable, ReasonUnavailable, "权限服务不可用")
	ErrDeliveryFailed       = New(http.StatusBadGateway, ReasonDeliveryFailed, "验证码发送失败")
	ErrUnauthorized         = New(http.StatusUnauthorized, ReasonUnauthorized, "未授权")
	ErrForbidden            = New(http.StatusForbidden, ReasonForbidden, "禁止访问")
	ErrInternalServer       = New(http.StatusInternalServerError, ReasonInternal, "服务器内部错误")
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 解包错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按 Reason 匹配，包装后的错误仍可与预定义错误比较
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if e.Reason == "" || t.Reason == "" {
		return e == t
	}
	return e.Reason == t.Reason
}

// New 创建新错误
func New(code int, reason, message string) *AppError {
	return &AppError{
		Code:    code,
		Reason:  reason,
		Message: message,
	}
}

// Wrap 以预定义错误为模板包装底层错误
func Wrap(base *AppError, err error) *AppError {
	return &AppError{
		Code:    base.Code,
		Reason:  base.Reason,
		Message: base.Message,
		Err:     err,
	}
}

// WithMessage 以预定义错误为模板替换消息
func WithMessage(base *AppError, message string) *AppError {
	return &AppError{
		Code:    base.Code,
		Reason:  base.Reason,
		Message: message,
	}
}

// Validation 创建验证错误
func Validation(message string) *AppError {
	return WithMessage(ErrValidation, message)
}

// Is 检查是否为指定错误
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 类型转换错误
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// From 提取 AppError，非 AppError 一律视为内部错误
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer
}

// GetCode 获取错误码
func GetCode(err error) int {
	return From(err).Code
}

// GetMessage 获取错误消息（不包含底层错误细节）
func GetMessage(err error) string {
	return From(err).Message
}
