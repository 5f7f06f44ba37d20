package response

import (
	"net/http"

	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/gofiber/fiber/v2"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// 响应码定义
const (
	CodeSuccess = 0
)

// 响应消息定义
const (
	MsgSuccess = "success"
)

// Success 成功响应
func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(http.StatusOK).JSON(Response{
		Code:    CodeSuccess,
		Message: MsgSuccess,
		Data:    data,
	})
}

// SuccessWithMessage 成功响应(带消息)
func SuccessWithMessage(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(http.StatusOK).JSON(Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应，HTTP 状态码取自 AppError，不输出底层错误细节
func Error(c *fiber.Ctx, err error) error {
	appErr := apperrors.From(err)
	return c.Status(appErr.Code).JSON(Response{
		Code:    appErr.Code,
		Reason:  appErr.Reason,
		Message: appErr.Message,
	})
}

// ValidateError 验证错误
func ValidateError(c *fiber.Ctx, message string) error {
	return Error(c, apperrors.Validation(message))
}

// Unauthorized 未授权
func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		return Error(c, apperrors.ErrUnauthorized)
	}
	return Error(c, apperrors.WithMessage(apperrors.ErrUnauthorized, message))
}

// Forbidden 禁止访问
func Forbidden(c *fiber.Ctx, message string) error {
	if message == "" {
		return Error(c, apperrors.ErrForbidden)
	}
	return Error(c, apperrors.WithMessage(apperrors.ErrForbidden, message))
}
