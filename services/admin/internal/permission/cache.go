package permission

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/adminmgmt/pkg/broadcast"
	"github.com/adminmgmt/pkg/cache"
	"github.com/adminmgmt/pkg/database"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// InvalidateTopic 跨实例失效通知
	InvalidateTopic = "permissions:invalidate"

	fillTimeout   = 10 * time.Second
	generationTTL = 24 * time.Hour
)

// fillScript 仅当代数未变化时写入，避免失效之前开始的查询覆盖新数据
var fillScript = redis.NewScript(`
local g = redis.call('GET', KEYS[2]) or '0'
if g ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Resolver 权限数据源
type Resolver interface {
	Resolve(ctx context.Context, userID string) ([]string, error)
}

// invalidation 失效通知内容
type invalidation struct {
	UserID string `json:"userId"`
}

// Cache 管理员权限缓存，Redis 为唯一事实来源，可选本地一级缓存
type Cache struct {
	store    *database.Store
	resolver Resolver
	ttl      time.Duration

	localTTL time.Duration
	local    *cache.Cache[[]string]
	bus      *broadcast.Broadcaster

	group singleflight.Group
}

// Option 缓存选项
type Option func(*Cache)

// WithLocalCache 启用本地缓存，bus 用于向其他实例广播失效
func WithLocalCache(ttl time.Duration, bus *broadcast.Broadcaster) Option {
	return func(c *Cache) {
		c.localTTL = ttl
		c.bus = bus
	}
}

// NewCache 创建权限缓存
func NewCache(store *database.Store, resolver Resolver, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		resolver: resolver,
		ttl:      ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.localTTL > 0 {
		c.local = cache.New[[]string]()
		if c.bus != nil {
			c.bus.Subscribe(InvalidateTopic, c.onInvalidate)
		}
	}
	return c
}

func entryKey(userID string) string {
	return "permissions:" + userID
}

func generationKey(userID string) string {
	return "permissions-gen:" + userID
}

// Get 获取用户权限，未命中时查询权限源并写入缓存
func (c *Cache) Get(ctx context.Context, userID string) ([]string, error) {
	if c.local != nil {
		if perms, ok := c.local.Get(userID); ok {
			return slices.Clone(perms), nil
		}
	}

	raw, remaining, found, err := c.store.GetWithTTL(ctx, entryKey(userID))
	if err != nil {
		return nil, err
	}
	if found {
		var perms []string
		if err := json.Unmarshal([]byte(raw), &perms); err == nil {
			c.setLocal(userID, perms, remaining)
			return perms, nil
		}
		logger.Warn("权限缓存数据损坏，重新查询", zap.String("userId", userID))
	}

	return c.load(ctx, userID)
}

// load 合并同一用户同一代数的并发查询
func (c *Cache) load(ctx context.Context, userID string) ([]string, error) {
	gen, _, err := c.store.Get(ctx, generationKey(userID))
	if err != nil {
		return nil, err
	}
	if gen == "" {
		gen = "0"
	}

	ch := c.group.DoChan(userID+"@"+gen, func() (interface{}, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		return c.fill(fillCtx, userID, gen)
	})

	select {
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	}
}

// fill 查询权限源并按代数写回
func (c *Cache) fill(ctx context.Context, userID, gen string) ([]string, error) {
	perms, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		if apperrors.As(err, new(*apperrors.AppError)) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}
	perms = normalize(perms)

	data, err := json.Marshal(perms)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	written, err := c.store.Eval(ctx, fillScript,
		[]string{entryKey(userID), generationKey(userID)},
		gen, data, c.ttl.Milliseconds(),
	)
	if err != nil {
		logger.Warn("写入权限缓存失败", zap.String("userId", userID), zap.Error(err))
		return perms, nil
	}
	if n, _ := written.(int64); n == 1 {
		c.setLocal(userID, perms, c.ttl)
	} else {
		logger.Debug("权限已失效，放弃写入缓存", zap.String("userId", userID), zap.String("generation", gen))
	}
	return perms, nil
}

// Invalidate 立即清除用户权限缓存，失败时记录警告并返回错误
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if c.local != nil {
		c.local.Delete(userID)
	}

	err := c.store.Tx(ctx, func(p redis.Pipeliner) error {
		gen := c.store.Key(generationKey(userID))
		p.Del(ctx, c.store.Key(entryKey(userID)))
		p.Incr(ctx, gen)
		p.PExpire(ctx, gen, generationTTL)
		return nil
	})
	if err != nil {
		logger.Warn("权限缓存失效失败，可能返回过期权限", zap.String("userId", userID), zap.Error(err))
		return err
	}

	if c.bus != nil {
		if err := c.bus.Publish(ctx, InvalidateTopic, invalidation{UserID: userID}); err != nil {
			logger.Warn("广播权限失效失败，其他实例本地缓存可能过期",
				zap.String("userId", userID),
				zap.Duration("localTtl", c.localTTL),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// onInvalidate 处理其他实例的失效通知
func (c *Cache) onInvalidate(msg *broadcast.Message) {
	var inv invalidation
	if err := json.Unmarshal(msg.Payload, &inv); err != nil || inv.UserID == "" {
		logger.Warn("无效的权限失效通知", zap.String("node", msg.NodeID))
		return
	}
	c.local.Delete(inv.UserID)
}

// setLocal 本地缓存有效期不超过 Redis 剩余有效期
func (c *Cache) setLocal(userID string, perms []string, remaining time.Duration) {
	if c.local == nil {
		return
	}
	ttl := min(c.localTTL, remaining)
	c.local.Set(userID, slices.Clone(perms), ttl)
}

// Close 释放本地缓存
func (c *Cache) Close() {
	if c.local != nil {
		c.local.Close()
	}
}

// normalize 排序去重
func normalize(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Generation 当前失效代数（调试接口使用）
func (c *Cache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, found, err := c.store.Get(ctx, generationKey(userID))
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.ParseInt(gen, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
