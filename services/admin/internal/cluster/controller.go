package cluster

import (
	"errors"
	"sort"

	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/logger"
	"github.com/adminmgmt/pkg/middleware"
	"github.com/adminmgmt/pkg/response"
	"github.com/adminmgmt/pkg/router"
	"github.com/gofiber/fiber/v2"
	"go-micro.dev/v5/registry"
	"go.uber.org/zap"
)

// PermClusterRead 查看集群节点权限
const PermClusterRead = "cluster:read"

// ServiceStatus 服务状态
type ServiceStatus struct {
	Name   string       `json:"name"`
	Status string       `json:"status"`
	Nodes  []NodeStatus `json:"nodes"`
}

// NodeStatus 节点信息
type NodeStatus struct {
	ID       string            `json:"id"`
	Address  string            `json:"address"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Controller 集群状态控制器
type Controller struct {
	registry registry.Registry
	guard    *middleware.PermissionGuard
}

// NewController 创建集群状态控制器
func NewController(reg registry.Registry, guard *middleware.PermissionGuard) *Controller {
	return &Controller{registry: reg, guard: guard}
}

// Prefix 路由前缀
func (c *Controller) Prefix() string {
	return "/cluster"
}

// Routes 路由配置
func (c *Controller) Routes(middlewares map[string]fiber.Handler) []router.Route {
	return []router.Route{
		{Method: "GET", Path: "/services", Handler: c.services, Middlewares: []fiber.Handler{middlewares["jwt"], c.guard.Require(PermClusterRead)}},
	}
}

// services 列出已注册服务及其存活节点
func (c *Controller) services(ctx *fiber.Ctx) error {
	list, err := c.registry.ListServices()
	if err != nil {
		logger.Warn("获取服务列表失败", zap.Error(err))
		return response.Error(ctx, apperrors.ErrCacheUnavailable)
	}

	statuses := make([]ServiceStatus, 0, len(list))
	for _, svc := range list {
		status := ServiceStatus{Name: svc.Name, Status: "unhealthy", Nodes: []NodeStatus{}}

		details, err := c.registry.GetService(svc.Name)
		if err != nil {
			// 节点在两次查询之间过期
			if !errors.Is(err, registry.ErrNotFound) {
				status.Status = "unknown"
			}
			statuses = append(statuses, status)
			continue
		}
		for _, s := range details {
			for _, node := range s.Nodes {
				status.Nodes = append(status.Nodes, NodeStatus{
					ID:       node.Id,
					Address:  node.Address,
					Metadata: node.Metadata,
				})
			}
		}
		sort.Slice(status.Nodes, func(i, j int) bool { return status.Nodes[i].ID < status.Nodes[j].ID })
		if len(status.Nodes) > 0 {
			status.Status = "healthy"
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return response.Success(ctx, statuses)
}
