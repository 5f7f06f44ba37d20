package middleware

import (
	"context"
	"strings"

	"github.com/adminmgmt/pkg/auth"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/logger"
	"github.com/adminmgmt/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JWTAuth JWT认证中间件
func JWTAuth(jwtManager *auth.JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 从Header获取token
		token := c.Get("Authorization")
		if token == "" {
			return response.Unauthorized(c, "未提供认证令牌")
		}

		// 去除Bearer前缀
		token = strings.TrimPrefix(token, "Bearer ")

		claims, err := jwtManager.ParseToken(token)
		if err != nil {
			return response.Unauthorized(c, "无效的认证令牌")
		}

		c.Locals("adminId", claims.AdminID())
		c.Locals("email", claims.Email)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// Recovery 恢复中间件
func Recovery() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Path()),
					zap.String("method", c.Method()),
					zap.String("requestId", GetRequestID(c)),
				)
				err = response.Error(c, apperrors.ErrInternalServer)
			}
		}()
		return c.Next()
	}
}

// Cors 跨域中间件
func Cors() fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")

		if origin != "" {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			c.Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
			c.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}

// RequestID 请求ID中间件
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("requestId", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// GetRequestID 从上下文获取请求ID
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestId").(string)
	return id
}

// GetAdminID 从上下文获取管理员ID
func GetAdminID(c *fiber.Ctx) string {
	id, _ := c.Locals("adminId").(string)
	return id
}

// ErrorHandler fiber 全局错误处理
func ErrorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(response.Response{
			Code:    fe.Code,
			Message: fe.Message,
		})
	}
	if !apperrors.As(err, new(*apperrors.AppError)) {
		logger.Error("未处理的错误",
			zap.Error(err),
			zap.String("path", c.Path()),
			zap.String("requestId", GetRequestID(c)),
		)
	}
	return response.Error(c, err)
}

// PermissionSource 带缓存的权限查询
type PermissionSource interface {
	Get(ctx context.Context, userID string) ([]string, error)
}

// PermissionResolver 权限数据源，缓存不可用时的降级查询
type PermissionResolver interface {
	Resolve(ctx context.Context, userID string) ([]string, error)
}

// PermissionGuard 权限校验
type PermissionGuard struct {
	source   PermissionSource
	fallback PermissionResolver // 为空表示缓存不可用时拒绝访问
}

// NewPermissionGuard 创建权限校验，fallback 为空时缓存不可用即拒绝
func NewPermissionGuard(source PermissionSource, fallback PermissionResolver) *PermissionGuard {
	return &PermissionGuard{source: source, fallback: fallback}
}

// Require 要求当前管理员拥有指定权限 (resource:action)
func (g *PermissionGuard) Require(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		adminID := GetAdminID(c)
		if adminID == "" {
			return response.Unauthorized(c, "未获取到用户信息")
		}

		perms, err := g.permissions(c.UserContext(), adminID)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrNotFound) {
				return response.Forbidden(c, "没有访问权限")
			}
			logger.Warn("权限校验失败，拒绝访问",
				zap.String("adminId", adminID),
				zap.String("permission", permission),
				zap.Error(err),
			)
			return response.Error(c, err)
		}

		for _, granted := range perms {
			if matchPermission(granted, permission) {
				c.Locals("permissions", perms)
				return c.Next()
			}
		}
		return response.Forbidden(c, "没有访问权限")
	}
}

func (g *PermissionGuard) permissions(ctx context.Context, adminID string) ([]string, error) {
	perms, err := g.source.Get(ctx, adminID)
	if err == nil || g.fallback == nil || !apperrors.Is(err, apperrors.ErrCacheUnavailable) {
		return perms, err
	}

	logger.Warn("权限缓存不可用，降级查询权限源", zap.String("adminId", adminID))
	return g.fallback.Resolve(ctx, adminID)
}

// matchPermission 匹配权限，资源支持 /* 后缀通配，动作支持 *
func matchPermission(granted, required string) bool {
	gRes, gAct, ok := splitPermission(granted)
	if !ok {
		return false
	}
	rRes, rAct, ok := splitPermission(required)
	if !ok {
		return false
	}
	if gAct != "*" && !strings.EqualFold(gAct, rAct) {
		return false
	}
	return matchPath(gRes, rRes)
}

func splitPermission(p string) (string, string, bool) {
	i := strings.LastIndex(p, ":")
	if i <= 0 || i == len(p)-1 {
		return "", "", false
	}
	return p[:i], p[i+1:], true
}

// matchPath 路径匹配（支持通配符）
func matchPath(pattern, path string) bool {
	if pattern == path || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// GetPermissions 从上下文获取已校验的权限列表
func GetPermissions(c *fiber.Ctx) []string {
	perms, _ := c.Locals("permissions").([]string)
	return perms
}
