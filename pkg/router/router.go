package router

import (
	"github.com/adminmgmt/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Route 单条路由，Path 相对控制器前缀
type Route struct {
	Method      string
	Path        string
	Handler     fiber.Handler
	Middlewares []fiber.Handler // 为 nil 的中间件在注册时跳过
}

// Registrar 控制器按前缀声明自己的路由
type Registrar interface {
	Prefix() string
	Routes(middlewares map[string]fiber.Handler) []Route
}

// Register 将控制器路由挂到各自的前缀分组下
func Register(app fiber.Router, middlewares map[string]fiber.Handler, controllers ...Registrar) {
	for _, ctrl := range controllers {
		g := app.Group(ctrl.Prefix())
		for _, route := range ctrl.Routes(middlewares) {
			g.Add(route.Method, route.Path, chain(route)...)
			logger.Debug("route registered",
				zap.String("method", route.Method),
				zap.String("path", ctrl.Prefix()+route.Path),
			)
		}
	}
}

func chain(route Route) []fiber.Handler {
	handlers := make([]fiber.Handler, 0, len(route.Middlewares)+1)
	for _, h := range route.Middlewares {
		if h != nil {
			handlers = append(handlers, h)
		}
	}
	return append(handlers, route.Handler)
}
