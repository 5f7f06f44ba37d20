package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/adminmgmt/pkg/auth"
	"github.com/adminmgmt/pkg/broadcast"
	"github.com/adminmgmt/pkg/config"
	"github.com/adminmgmt/pkg/database"
	"github.com/adminmgmt/pkg/lifecycle"
	"github.com/adminmgmt/pkg/logger"
	"github.com/adminmgmt/pkg/middleware"
	pkgRegistry "github.com/adminmgmt/pkg/registry"
	"github.com/adminmgmt/pkg/response"
	"github.com/adminmgmt/pkg/router"
	"github.com/adminmgmt/services/admin/internal/cluster"
	"github.com/adminmgmt/services/admin/internal/permission"
	"github.com/adminmgmt/services/admin/internal/ratelimit"
	"github.com/adminmgmt/services/admin/internal/verification"
	"go.uber.org/zap"
)

const serviceName = "admin-service"

func main() {
	// 加载配置
	if err := config.Init(os.Getenv("CONFIG_PATH")); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// 初始化Redis
	if err := database.InitRedis(&cfg.Redis); err != nil {
		logger.Fatal("初始化Redis失败", zap.Error(err))
	}

	// 初始化策略数据库
	policyDB, err := database.Open(&cfg.Database)
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}

	enforcer, err := auth.NewEnforcer(policyDB, &cfg.Casbin)
	if err != nil {
		logger.Fatal("初始化Casbin失败", zap.Error(err))
	}
	casbinSvc := auth.NewCasbinService(enforcer)

	nodeID := serviceName + "-" + uuid.NewString()[:8]
	addr := cfg.Server.HTTP.Addr()
	store := database.NewStore(database.GetRedis(), cfg.Redis.InstanceName)
	bus := broadcast.New(store, serviceName, nodeID)

	// 权限缓存
	var cacheOpts []permission.Option
	if cfg.PermissionCache.LocalTTL > 0 {
		cacheOpts = append(cacheOpts, permission.WithLocalCache(cfg.PermissionCache.LocalTTL, bus))
	}
	permCache := permission.NewCache(store, casbinSvc, cfg.PermissionCache.TTL, cacheOpts...)

	// Redis 不可用时，降级模式直接查询权限源，否则拒绝
	var fallback middleware.PermissionResolver
	if cfg.PermissionCache.DegradedMode {
		fallback = casbinSvc
	}
	guard := middleware.NewPermissionGuard(permCache, fallback)

	// 验证码
	limiter := ratelimit.NewLimiter(store)
	sender, err := verification.NewSender(cfg.Verification.Channel, bus)
	if err != nil {
		logger.Fatal("初始化验证码发送器失败", zap.Error(err))
	}
	verifySvc := verification.NewService(store, limiter,
		ratelimit.EmailVerificationPolicy(&cfg.Limitation), sender, &cfg.Verification)

	// 服务注册信息
	reg := pkgRegistry.NewRedisRegistry(store)
	svcInfo := pkgRegistry.NewServiceBuilder(serviceName, cfg.App.Version).
		WithNodeID(nodeID).
		WithAddress(addr).
		WithMetadata("instance", cfg.Redis.InstanceName).
		Build()

	// 创建Fiber应用
	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		ReadTimeout:           time.Duration(cfg.Server.HTTP.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.HTTP.WriteTimeout) * time.Second,
		ErrorHandler:          middleware.ErrorHandler,
		DisableStartupMessage: true,
	})

	// 全局中间件
	app.Use(middleware.Recovery())
	app.Use(middleware.Cors())
	app.Use(middleware.RequestID())

	// 健康检查
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return response.Error(c, err)
		}
		return response.Success(c, fiber.Map{
			"status":  "healthy",
			"service": serviceName,
			"node":    nodeID,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	// 创建并运行服务
	err = lifecycle.New(serviceName).
		Node(nodeID).
		Addr(addr).
		Registry(reg).
		RegInfo(svcInfo).
		Bus(bus).
		App(app).
		OnStart(func(s *lifecycle.Service) error {
			jwtManager := auth.NewJWTManager(&cfg.JWT)
			middlewares := map[string]fiber.Handler{
				"jwt": middleware.JWTAuth(jwtManager),
			}
			router.Register(app, middlewares,
				permission.NewController(permCache, casbinSvc, guard),
				permission.NewRoleController(permCache, casbinSvc, guard),
				verification.NewController(verifySvc),
				cluster.NewController(reg, guard),
			)
			return nil
		}).
		OnReady(func(s *lifecycle.Service) error {
			logger.Info("管理服务就绪",
				zap.String("addr", s.Addr()),
				zap.Duration("permissionTtl", cfg.PermissionCache.TTL),
				zap.Bool("degradedMode", cfg.PermissionCache.DegradedMode),
			)
			return nil
		}).
		OnStop(func(s *lifecycle.Service) error {
			logger.Info("管理服务正在清理资源...")
			permCache.Close()
			if err := database.Close(policyDB); err != nil {
				logger.Warn("关闭数据库失败", zap.Error(err))
			}
			return database.CloseRedis()
		}).
		On(lifecycle.EventReady, func(msg *lifecycle.EventMessage, s *lifecycle.Service) {
			if msg.NodeID == s.NodeID() {
				return
			}
			logger.Info("检测到实例就绪", zap.String("service", msg.Service), zap.String("node", msg.NodeID))
		}).
		Run()

	if err != nil {
		logger.Fatal("服务运行失败", zap.Error(err))
	}
}
