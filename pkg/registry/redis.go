package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adminmgmt/pkg/database"
	"github.com/adminmgmt/pkg/logger"
	"go-micro.dev/v5/registry"
	"go.uber.org/zap"
)

const (
	// key: registry:<service>:<node>
	servicePrefix = "registry"
	ttlDuration   = 30 * time.Second
	opTimeout     = 3 * time.Second
)

// RedisRegistry 基于共享 Redis 的服务注册中心，每个节点一个带 TTL 的 key，由心跳续期
type RedisRegistry struct {
	store     *database.Store
	ttl       time.Duration
	mu        sync.Mutex
	heartbeat map[string]chan struct{}
}

// NewRedisRegistry 创建基于 Redis 的注册中心
func NewRedisRegistry(store *database.Store) *RedisRegistry {
	return &RedisRegistry{
		store:     store,
		ttl:       ttlDuration,
		heartbeat: make(map[string]chan struct{}),
	}
}

func nodeKey(service, nodeID string) string {
	return servicePrefix + ":" + service + ":" + nodeID
}

// Init 初始化
func (r *RedisRegistry) Init(opts ...registry.Option) error {
	return nil
}

// Options 获取选项
func (r *RedisRegistry) Options() registry.Options {
	return registry.Options{}
}

// Register 注册服务节点并启动心跳
func (r *RedisRegistry) Register(s *registry.Service, opts ...registry.RegisterOption) error {
	if s == nil || len(s.Nodes) == 0 {
		return fmt.Errorf("service or nodes cannot be empty")
	}

	for _, node := range s.Nodes {
		if err := r.put(s, node); err != nil {
			return fmt.Errorf("register node %s: %w", node.Id, err)
		}
		r.startHeartbeat(s, node)
	}

	logger.Debug("服务已注册",
		zap.String("service", s.Name),
		zap.Int("nodes", len(s.Nodes)),
	)
	return nil
}

// put 写入单个节点
func (r *RedisRegistry) put(s *registry.Service, node *registry.Node) error {
	data, err := json.Marshal(&registry.Service{
		Name:    s.Name,
		Version: s.Version,
		Nodes:   []*registry.Node{node},
	})
	if err != nil {
		return fmt.Errorf("marshal service: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.store.Set(ctx, nodeKey(s.Name, node.Id), data, r.ttl)
}

// Deregister 注销服务节点
func (r *RedisRegistry) Deregister(s *registry.Service, opts ...registry.DeregisterOption) error {
	if s == nil {
		return fmt.Errorf("service cannot be nil")
	}

	keys := make([]string, 0, len(s.Nodes))
	for _, node := range s.Nodes {
		r.stopHeartbeat(nodeKey(s.Name, node.Id))
		keys = append(keys, nodeKey(s.Name, node.Id))
	}
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.store.Del(ctx, keys...)
}

// GetService 获取服务（合并所有存活节点）
func (r *RedisRegistry) GetService(name string, opts ...registry.GetOption) ([]*registry.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys, err := r.store.Keys(ctx, servicePrefix+":"+name+":*")
	if err != nil {
		return nil, err
	}

	var svc *registry.Service
	for _, key := range keys {
		node, ok := r.load(ctx, key)
		if !ok || node.Name != name {
			continue
		}
		if svc == nil {
			svc = &registry.Service{Name: node.Name, Version: node.Version}
		}
		mergeNodes(svc, node.Nodes)
	}
	if svc == nil {
		return nil, registry.ErrNotFound
	}
	return []*registry.Service{svc}, nil
}

// ListServices 列出所有服务
func (r *RedisRegistry) ListServices(opts ...registry.ListOption) ([]*registry.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	keys, err := r.store.Keys(ctx, servicePrefix+":*")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	services := make([]*registry.Service, 0)
	for _, key := range keys {
		parts := strings.SplitN(key, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if _, ok := seen[parts[1]]; ok {
			continue
		}
		seen[parts[1]] = struct{}{}
		services = append(services, &registry.Service{Name: parts[1]})
	}
	return services, nil
}

// load 读取单个节点
func (r *RedisRegistry) load(ctx context.Context, key string) (*registry.Service, bool) {
	raw, found, err := r.store.Get(ctx, key)
	if err != nil || !found {
		return nil, false
	}
	var svc registry.Service
	if err := json.Unmarshal([]byte(raw), &svc); err != nil {
		logger.Warn("服务注册信息解析失败", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &svc, true
}

// Watch 不支持变更通知，返回的 Watcher 在 Stop 前阻塞
func (r *RedisRegistry) Watch(opts ...registry.WatchOption) (registry.Watcher, error) {
	return newStopWatcher(), nil
}

// String 返回注册中心名称
func (r *RedisRegistry) String() string {
	return "redis"
}

// startHeartbeat 启动心跳保活
func (r *RedisRegistry) startHeartbeat(s *registry.Service, node *registry.Node) {
	key := nodeKey(s.Name, node.Id)
	stop := make(chan struct{})

	r.mu.Lock()
	if prev, ok := r.heartbeat[key]; ok {
		close(prev)
	}
	r.heartbeat[key] = stop
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.put(s, node); err != nil {
					logger.Warn("服务心跳失败", zap.String("key", key), zap.Error(err))
				}
			case <-stop:
				return
			}
		}
	}()
}

// stopHeartbeat 停止心跳
func (r *RedisRegistry) stopHeartbeat(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stop, ok := r.heartbeat[key]; ok {
		close(stop)
		delete(r.heartbeat, key)
	}
}
