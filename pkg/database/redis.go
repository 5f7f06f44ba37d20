package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adminmgmt/pkg/config"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	memory      *memoryRedis
)

// memoryRedis 内存模式的 Redis，按真实时间推进 TTL
type memoryRedis struct {
	mr   *miniredis.Miniredis
	stop chan struct{}
}

func startMemoryRedis() (*memoryRedis, error) {
	mr, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	m := &memoryRedis{mr: mr, stop: make(chan struct{})}
	go m.clock()
	return m, nil
}

// clock miniredis 不会自行让 key 过期
func (m *memoryRedis) clock() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			m.mr.FastForward(now.Sub(last))
			last = now
		case <-m.stop:
			return
		}
	}
}

func (m *memoryRedis) close() {
	close(m.stop)
	m.mr.Close()
}

// InitRedis 初始化Redis连接
func InitRedis(cfg *config.RedisConfig) error {
	var err error
	redisOnce.Do(func() {
		if cfg.Mode == "memory" {
			memory, err = startMemoryRedis()
			if err != nil {
				return
			}
			redisClient = redis.NewClient(&redis.Options{
				Addr: memory.mr.Addr(),
			})
			logger.Info("Redis 使用内存模式", zap.String("addr", memory.mr.Addr()))
			return
		}

		var opts *redis.Options
		opts, err = clientOptions(cfg)
		if err != nil {
			return
		}
		redisClient = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			logger.Debug("Redis ping 失败", zap.Error(pingErr))
			err = fmt.Errorf("failed to connect to redis at %s", opts.Addr)
		}
	})
	return err
}

// clientOptions 连接串优先，否则使用 host/port
func clientOptions(cfg *config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url")
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}, nil
}

// GetRedis 获取Redis客户端
func GetRedis() *redis.Client {
	if redisClient == nil {
		panic("redis not initialized, call InitRedis first")
	}
	return redisClient
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			return err
		}
	}
	if memory != nil {
		memory.close()
	}
	return nil
}

// incrWithExpiry 原子自增，首次创建或缺少 TTL 时设置过期时间
var incrWithExpiry = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Store 多实例共享的键值存储，所有 key 带实例前缀
// 返回的错误不包含 Redis 内部细节，细节只写入调试日志
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore 创建存储实例
func NewStore(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

// Key 生成带前缀的key
func (s *Store) Key(parts ...string) string {
	key := strings.Join(parts, ":")
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Client 获取底层客户端（Pub/Sub 等使用）
func (s *Store) Client() *redis.Client {
	return s.client
}

// fail 记录底层错误并返回脱敏错误
func (s *Store) fail(op, key string, err error) error {
	logger.Debug("redis 操作失败", zap.String("op", op), zap.String("key", key), zap.Error(err))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ErrCacheUnavailable, err)
	}
	return apperrors.ErrCacheUnavailable
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return s.fail("ping", "", err)
	}
	return nil
}

// Set 设置缓存 (SET key value PX ttl)
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	k := s.Key(key)
	if err := s.client.Set(ctx, k, value, ttl).Err(); err != nil {
		return s.fail("set", k, err)
	}
	return nil
}

// Get 获取缓存，不存在时 found 为 false
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	k := s.Key(key)
	val, err := s.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("get", k, err)
	}
	return val, true, nil
}

// GetWithTTL 获取缓存及剩余有效期，ttl 未知时为 0
func (s *Store) GetWithTTL(ctx context.Context, key string) (string, time.Duration, bool, error) {
	k := s.Key(key)
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		getCmd = p.Get(ctx, k)
		ttlCmd = p.PTTL(ctx, k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", 0, false, s.fail("get_ttl", k, err)
	}

	val, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, s.fail("get_ttl", k, err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return val, ttl, true, nil
}

// GetDel 原子读取并删除 (GETDEL)
func (s *Store) GetDel(ctx context.Context, key string) (string, bool, error) {
	k := s.Key(key)
	val, err := s.client.GetDel(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail("getdel", k, err)
	}
	return val, true, nil
}

// Del 删除缓存
func (s *Store) Del(ctx context.Context, keys ...string) error {
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = s.Key(k)
	}
	if err := s.client.Del(ctx, fullKeys...).Err(); err != nil {
		return s.fail("del", strings.Join(fullKeys, ","), err)
	}
	return nil
}

// Expire 设置过期时间
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	k := s.Key(key)
	if err := s.client.PExpire(ctx, k, ttl).Err(); err != nil {
		return s.fail("expire", k, err)
	}
	return nil
}

// IncrWithExpiry 原子自增并在窗口开始时设置过期时间，返回自增后的值
func (s *Store) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := s.Key(key)
	n, err := incrWithExpiry.Run(ctx, s.client, []string{k}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, s.fail("incr_expiry", k, err)
	}
	return n, nil
}

// Eval 执行 Lua 脚本，keys 自动加前缀
func (s *Store) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	fullKeys := make([]string, len(keys))
	for i, k := range keys {
		fullKeys[i] = s.Key(k)
	}
	val, err := script.Run(ctx, s.client, fullKeys, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.fail("eval", strings.Join(fullKeys, ","), err)
	}
	return val, nil
}

// Tx 在 MULTI/EXEC 中执行，fn 收到的 key 需通过 Key 加前缀
func (s *Store) Tx(ctx context.Context, fn func(p redis.Pipeliner) error) error {
	if _, err := s.client.TxPipelined(ctx, fn); err != nil {
		return s.fail("tx", "", err)
	}
	return nil
}

// Keys 按模式扫描 key（SCAN），返回不带前缀的 key
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	full := s.Key(pattern)
	var keys []string
	iter := s.client.Scan(ctx, 0, full, 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if s.prefix != "" {
			k = strings.TrimPrefix(k, s.prefix+":")
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, s.fail("scan", full, err)
	}
	return keys, nil
}

// Publish 发布消息
func (s *Store) Publish(ctx context.Context, channel string, payload interface{}) error {
	ch := s.Key(channel)
	if err := s.client.Publish(ctx, ch, payload).Err(); err != nil {
		return s.fail("publish", ch, err)
	}
	return nil
}
