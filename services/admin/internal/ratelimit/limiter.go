package ratelimit

import (
	"context"
	"time"

	"github.com/adminmgmt/pkg/config"
	"github.com/adminmgmt/pkg/database"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 2 * time.Second

// Policy 限流策略：period 内最多 Max 次
type Policy struct {
	Max    int
	Period time.Duration
}

// EmailVerificationPolicy 验证码限流策略
func EmailVerificationPolicy(cfg *config.LimitationConfig) Policy {
	return Policy{
		Max:    cfg.EmailVerificationMaxAllowedRequestsNumber,
		Period: cfg.EmailVerificationCallsMonitoredPeriod,
	}
}

// Key 限流键：调用方 + 动作
func Key(caller, action string) string {
	return caller + ":" + action
}

// Limiter 固定窗口计数限流，计数保存在共享存储中
// 窗口边界处最多可能放行约两倍的请求
type Limiter struct {
	store   *database.Store
	timeout time.Duration
}

// NewLimiter 创建限流器
func NewLimiter(store *database.Store) *Limiter {
	return &Limiter{
		store:   store,
		timeout: defaultTimeout,
	}
}

// TryAcquire 计数加一，超过 maxAllowed 时返回 false
// 被拒绝的请求同样计数；存储不可用时拒绝并返回 ErrCacheUnavailable
func (l *Limiter) TryAcquire(ctx context.Context, key string, maxAllowed int, period time.Duration) (bool, error) {
	if maxAllowed <= 0 || period <= 0 {
		return false, apperrors.Validation("invalid rate limit policy")
	}
	// 调用方已放弃时不发出计数
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.ErrUnavailable, err)
	}

	// 已发出的计数必须等待完成，不随调用方取消
	incrCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	n, err := l.store.IncrWithExpiry(incrCtx, "ratelimit:"+key, period)
	if err != nil {
		logger.Warn("限流计数失败，拒绝请求", zap.String("key", key), zap.Error(err))
		return false, err
	}

	if n > int64(maxAllowed) {
		logger.Debug("请求被限流",
			zap.String("key", key),
			zap.Int64("count", n),
			zap.Int("max", maxAllowed),
		)
		return false, nil
	}
	return true, nil
}

// Allow 按策略对调用方的动作限流
func (l *Limiter) Allow(ctx context.Context, p Policy, caller, action string) (bool, error) {
	return l.TryAcquire(ctx, Key(caller, action), p.Max, p.Period)
}
