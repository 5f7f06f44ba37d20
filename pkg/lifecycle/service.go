package lifecycle

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adminmgmt/pkg/broadcast"
	"github.com/adminmgmt/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"go-micro.dev/v5/registry"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

// Hook 生命周期钩子
type Hook func(*Service) error

// ServiceOptions 服务配置选项
type ServiceOptions struct {
	Name            string                 // 服务名称
	NodeID          string                 // 节点ID
	Address         string                 // 服务地址
	Registry        registry.Registry      // 服务注册中心
	Service         *registry.Service      // 服务注册信息
	Bus             *broadcast.Broadcaster // 跨实例广播，可为空
	ShutdownTimeout time.Duration
}

// Service 微服务包装器
type Service struct {
	opts     *ServiceOptions
	app      *fiber.App
	events   *Manager
	listener net.Listener
	errCh    chan error

	// 钩子函数
	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// NewService 创建微服务
func NewService(opts *ServiceOptions) *Service {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Service{
		opts:   opts,
		events: NewManager(opts.Name, opts.NodeID, opts.Bus),
		errCh:  make(chan error, 1),
	}
}

// SetApp 设置Fiber应用
func (s *Service) SetApp(app *fiber.App) {
	s.app = app
}

// App 获取Fiber应用
func (s *Service) App() *fiber.App {
	return s.app
}

// Name 服务名称
func (s *Service) Name() string {
	return s.opts.Name
}

// NodeID 节点ID
func (s *Service) NodeID() string {
	return s.opts.NodeID
}

// Addr 实际监听地址（启动后有效）
func (s *Service) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Address
}

// Events 获取生命周期事件管理器
func (s *Service) Events() *Manager {
	return s.events
}

// OnStart 注册启动钩子
func (s *Service) OnStart(fn Hook) {
	s.onStart = append(s.onStart, fn)
}

// OnReady 注册就绪钩子
func (s *Service) OnReady(fn Hook) {
	s.onReady = append(s.onReady, fn)
}

// OnStop 注册停止钩子
func (s *Service) OnStop(fn Hook) {
	s.onStop = append(s.onStop, fn)
}

// Start 执行启动钩子、开始监听并注册服务
func (s *Service) Start(ctx context.Context) error {
	if s.app == nil {
		return fmt.Errorf("fiber app not set")
	}

	s.events.Emit(ctx, EventStarting)

	// 执行启动钩子（路由注册、订阅等）
	for _, fn := range s.onStart {
		if err := fn(s); err != nil {
			return fmt.Errorf("start hook: %w", err)
		}
	}

	if s.opts.Bus != nil {
		if err := s.opts.Bus.Start(ctx); err != nil {
			return fmt.Errorf("start broadcaster: %w", err)
		}
	}

	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Address, err)
	}
	s.listener = ln

	go func() {
		logger.Info("服务启动",
			zap.String("service", s.opts.Name),
			zap.String("node", s.opts.NodeID),
			zap.String("address", ln.Addr().String()),
		)
		if err := s.app.Listener(ln); err != nil {
			s.errCh <- err
		}
	}()

	// 注册服务
	if s.opts.Registry != nil && s.opts.Service != nil {
		if err := s.opts.Registry.Register(s.opts.Service); err != nil {
			return fmt.Errorf("register service: %w", err)
		}
	}
	s.events.Emit(ctx, EventStarted)

	// 执行就绪钩子
	for _, fn := range s.onReady {
		if err := fn(s); err != nil {
			return fmt.Errorf("ready hook: %w", err)
		}
	}
	s.events.Emit(ctx, EventReady)
	return nil
}

// Run 启动服务并等待退出信号
func (s *Service) Run() error {
	if err := s.Start(context.Background()); err != nil {
		_ = s.Shutdown()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("收到退出信号，正在关闭服务...")
	case err := <-s.errCh:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown 优雅关闭服务
func (s *Service) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	s.events.Emit(ctx, EventStopping)

	// 先注销，避免新的请求被路由到本节点
	if s.opts.Registry != nil && s.opts.Service != nil {
		if err := s.opts.Registry.Deregister(s.opts.Service); err != nil {
			logger.Error("注销服务失败", zap.Error(err))
		}
	}

	if s.app != nil && s.listener != nil {
		if err := s.app.ShutdownWithTimeout(s.opts.ShutdownTimeout); err != nil {
			logger.Error("关闭HTTP服务失败", zap.Error(err))
		}
	}

	s.events.Emit(ctx, EventStopped)

	if s.opts.Bus != nil {
		if err := s.opts.Bus.Stop(); err != nil {
			logger.Error("停止广播监听失败", zap.Error(err))
		}
	}

	// 停止钩子最后执行，可在此关闭连接
	for _, fn := range s.onStop {
		if err := fn(s); err != nil {
			logger.Error("停止钩子执行失败", zap.Error(err))
		}
	}

	logger.Info("服务已关闭", zap.String("service", s.opts.Name))
	return nil
}
