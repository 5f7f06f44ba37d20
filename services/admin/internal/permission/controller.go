package permission

import (
	"context"
	"strings"

	"github.com/adminmgmt/pkg/auth"
	"github.com/adminmgmt/pkg/logger"
	"github.com/adminmgmt/pkg/middleware"
	"github.com/adminmgmt/pkg/response"
	"github.com/adminmgmt/pkg/router"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// 权限标识
const (
	PermAdminsRead  = "admins:read"
	PermAdminsWrite = "admins:write"
	PermRolesWrite  = "roles:write"
)

// RoleStore 管理员角色及角色权限存储
type RoleStore interface {
	SetUserRoles(userID string, roleCodes []string) error
	GetRolesForUser(userID string) ([]string, error)
	SetRolePermissions(roleCode string, permissions []auth.Permission) error
	GetUsersForRole(roleCode string) ([]string, error)
}

// Controller 管理员权限控制器
type Controller struct {
	cache *Cache
	roles RoleStore
	guard *middleware.PermissionGuard
}

// NewController 创建权限控制器
func NewController(cache *Cache, roles RoleStore, guard *middleware.PermissionGuard) *Controller {
	return &Controller{
		cache: cache,
		roles: roles,
		guard: guard,
	}
}

// Prefix 路由前缀
func (c *Controller) Prefix() string {
	return "/admins"
}


// Routes 路由配置
func (c *Controller) Routes(middlewares map[string]fiber.Handler) []router.Route {
	read := []fiber.Handler{middlewares["jwt"], c.guard.Require(PermAdminsRead)}
	write := []fiber.Handler{middlewares["jwt"], c.guard.Require(PermAdminsWrite)}
	return []router.Route{
		{Method: "GET", Path: "/:id/permissions", Handler: c.permissions, Middlewares: read},
		{Method: "DELETE", Path: "/:id/permissions/cache", Handler: c.invalidate, Middlewares: write},
		{Method: "GET", Path: "/:id/roles", Handler: c.getRoles, Middlewares: read},
		{Method: "PUT", Path: "/:id/roles", Handler: c.setRoles, Middlewares: write},
	}
}

// permissions 获取管理员有效权限（经缓存）
func (c *Controller) permissions(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	perms, err := c.cache.Get(ctx.UserContext(), id)
	if err != nil {
		return response.Error(ctx, err)
	}
	gen, err := c.cache.Generation(ctx.UserContext(), id)
	if err != nil {
		return response.Error(ctx, err)
	}
	return response.Success(ctx, PermissionsResponse{
		AdminID:     id,
		Permissions: perms,
		Generation:  gen,
	})
}

// invalidate 清除管理员权限缓存
func (c *Controller) invalidate(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	if err := c.cache.Invalidate(ctx.UserContext(), id); err != nil {
		return response.Error(ctx, err)
	}
	return response.Success(ctx, nil)
}

// getRoles 获取管理员角色
func (c *Controller) getRoles(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	roles, err := c.roles.GetRolesForUser(id)
	if err != nil {
		return response.Error(ctx, err)
	}
	return response.Success(ctx, RolesResponse{AdminID: id, Roles: roles})
}

// setRoles 设置管理员角色，并使其权限缓存失效
func (c *Controller) setRoles(ctx *fiber.Ctx) error {
	id := ctx.Params("id")

	var req SetRolesRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.ValidateError(ctx, "请求格式错误")
	}
	if req.Roles == nil {
		return response.ValidateError(ctx, "roles is required")
	}
	for _, r := range req.Roles {
		if strings.TrimSpace(r) == "" {
			return response.ValidateError(ctx, "role code must not be empty")
		}
	}

	// 策略一旦被修改（包括部分失败），缓存必须失效
	err := c.roles.SetUserRoles(id, req.Roles)
	if invErr := c.cache.Invalidate(ctx.UserContext(), id); invErr != nil && err == nil {
		err = invErr
	}
	if err != nil {
		return response.Error(ctx, err)
	}

	logger.Info("管理员角色已更新",
		zap.String("adminId", id),
		zap.Strings("roles", req.Roles),
		zap.String("operator", middleware.GetAdminID(ctx)),
	)
	return response.Success(ctx, RolesResponse{AdminID: id, Roles: req.Roles})
}

// RoleController 角色权限控制器
type RoleController struct {
	*Controller
}

// NewRoleController 创建角色权限控制器
func NewRoleController(cache *Cache, roles RoleStore, guard *middleware.PermissionGuard) *RoleController {
	return &RoleController{NewController(cache, roles, guard)}
}

// Prefix 路由前缀
func (c *RoleController) Prefix() string {
	return "/roles"
}

// Routes 路由配置
func (c *RoleController) Routes(middlewares map[string]fiber.Handler) []router.Route {
	write := []fiber.Handler{middlewares["jwt"], c.guard.Require(PermRolesWrite)}
	return []router.Route{
		{Method: "PUT", Path: "/:code/permissions", Handler: c.setPermissions, Middlewares: write},
	}
}

// setPermissions 设置角色权限，并使持有该角色的管理员缓存失效
func (c *RoleController) setPermissions(ctx *fiber.Ctx) error {
	code := ctx.Params("code")

	var req SetPermissionsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.ValidateError(ctx, "请求格式错误")
	}
	if req.Permissions == nil {
		return response.ValidateError(ctx, "permissions is required")
	}
	perms := make([]auth.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		perm, ok := auth.ParsePermission(strings.TrimSpace(p))
		if !ok {
			return response.ValidateError(ctx, "permission must be resource:action")
		}
		perms = append(perms, perm)
	}

	// 持有该角色的管理员（含继承）
	users, err := c.roles.GetUsersForRole(code)
	if err != nil {
		return response.Error(ctx, err)
	}
	err = c.roles.SetRolePermissions(code, perms)
	if invErr := c.invalidateAll(ctx.UserContext(), users); invErr != nil && err == nil {
		err = invErr
	}
	if err != nil {
		return response.Error(ctx, err)
	}

	logger.Info("角色权限已更新",
		zap.String("role", code),
		zap.Strings("permissions", req.Permissions),
		zap.Int("affectedAdmins", len(users)),
		zap.String("operator", middleware.GetAdminID(ctx)),
	)
	return response.Success(ctx, RolePermissionsResponse{Role: code, Permissions: req.Permissions, AffectedAdmins: users})
}

// invalidateAll 逐个失效，返回第一个错误
func (c *Controller) invalidateAll(ctx context.Context, userIDs []string) error {
	var first error
	for _, id := range userIDs {
		if err := c.cache.Invalidate(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}
