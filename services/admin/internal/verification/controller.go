package verification

import (
	"github.com/adminmgmt/pkg/middleware"
	"github.com/adminmgmt/pkg/response"
	"github.com/adminmgmt/pkg/router"
	"github.com/gofiber/fiber/v2"
)

// Controller 验证码控制器
type Controller struct {
	svc *Service
}

// NewController 创建验证码控制器
func NewController(svc *Service) *Controller {
	return &Controller{svc: svc}
}

// Prefix 路由前缀
func (c *Controller) Prefix() string {
	return "/verification"
}

// Routes 路由配置
func (c *Controller) Routes(middlewares map[string]fiber.Handler) []router.Route {
	return []router.Route{
		{Method: "POST", Path: "/code", Handler: c.issue, Middlewares: []fiber.Handler{middlewares["jwt"]}},
		{Method: "POST", Path: "/confirm", Handler: c.confirm, Middlewares: []fiber.Handler{middlewares["jwt"]}},
	}
}

// issue 签发验证码
func (c *Controller) issue(ctx *fiber.Ctx) error {
	email, _ := ctx.Locals("email").(string)
	resp, err := c.svc.Issue(ctx.UserContext(), Caller{
		ID:    middleware.GetAdminID(ctx),
		Email: email,
	})
	if err != nil {
		return response.Error(ctx, err)
	}
	return response.Success(ctx, resp)
}

// confirm 确认验证码
func (c *Controller) confirm(ctx *fiber.Ctx) error {
	var req ConfirmRequest
	if err := ctx.BodyParser(&req); err != nil {
		return response.ValidateError(ctx, "请求格式错误")
	}
	if err := c.svc.Confirm(ctx.UserContext(), middleware.GetAdminID(ctx), &req); err != nil {
		return response.Error(ctx, err)
	}
	return response.Success(ctx, ConfirmResponse{Confirmed: true})
}
