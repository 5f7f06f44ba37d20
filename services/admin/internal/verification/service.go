package verification

import (
	"context"
	"errors"
	"time"

	"github.com/adminmgmt/pkg/config"
	"github.com/adminmgmt/pkg/database"
	apperrors "github.com/adminmgmt/pkg/errors"
	"github.com/adminmgmt/pkg/logger"
	"github.com/adminmgmt/pkg/utils"
	"github.com/adminmgmt/services/admin/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// 限流动作
const (
	ActionIssue   = "issue"
	ActionConfirm = "confirm"
)

// Service 验证码签发与确认
// 存储中只保存验证码哈希，确认时原子取出并删除，无论是否匹配都只能使用一次
type Service struct {
	store      *database.Store
	limiter    *ratelimit.Limiter
	policy     ratelimit.Policy
	sender     Sender
	codeTTL    time.Duration
	codeLength int
	hashCost   int
	generate   func(length int) (string, error)
	now        func() time.Time
}

// NewService 创建验证码服务
func NewService(store *database.Store, limiter *ratelimit.Limiter, policy ratelimit.Policy, sender Sender, cfg *config.VerificationConfig) *Service {
	return &Service{
		store:      store,
		limiter:    limiter,
		policy:     policy,
		sender:     sender,
		codeTTL:    cfg.CodeTTL,
		codeLength: cfg.CodeLength,
		hashCost:   bcrypt.DefaultCost,
		generate:   utils.RandomNumber,
		now:        time.Now,
	}
}

func codeKey(callerID string) string {
	return "verification:" + callerID
}

// Issue 签发验证码，新验证码覆盖旧验证码
// 投递失败时验证码仍然有效，返回 ErrDeliveryFailed
func (s *Service) Issue(ctx context.Context, caller Caller) (*IssueResponse, error) {
	if caller.ID == "" {
		return nil, apperrors.ErrUnauthorized
	}
	if !utils.IsEmail(caller.Email) {
		return nil, apperrors.Validation("caller has no valid email address")
	}

	if err := s.acquire(ctx, caller.ID, ActionIssue); err != nil {
		return nil, err
	}

	code, err := s.generate(s.codeLength)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.store.Set(ctx, codeKey(caller.ID), hash, s.codeTTL); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.codeTTL)
	n := &Notification{
		ID:        utils.UUID(),
		AdminID:   caller.ID,
		Email:     caller.Email,
		Code:      code,
		ExpiresAt: expiresAt,
	}
	if err := s.sender.Send(ctx, n); err != nil {
		logger.Warn("验证码投递失败",
			zap.String("adminId", caller.ID),
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		return nil, apperrors.Wrap(apperrors.ErrDeliveryFailed, err)
	}

	return &IssueResponse{
		ExpiresAt: expiresAt,
		ExpiresIn: int64(s.codeTTL.Seconds()),
	}, nil
}

// Confirm 确认验证码
func (s *Service) Confirm(ctx context.Context, callerID string, req *ConfirmRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if callerID == "" {
		return apperrors.ErrUnauthorized
	}

	if err := s.acquire(ctx, callerID, ActionConfirm); err != nil {
		return err
	}

	hash, found, err := s.store.GetDel(ctx, codeKey(callerID))
	if err != nil {
		return err
	}
	if !found {
		return apperrors.ErrInvalidOrExpiredCode
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.VerificationCode))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		logger.Info("验证码不匹配", zap.String("adminId", callerID))
		return apperrors.ErrCodeMismatch
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	logger.Info("验证码确认成功", zap.String("adminId", callerID))
	return nil
}

// acquire 限流，存储不可用时拒绝
func (s *Service) acquire(ctx context.Context, callerID, action string) error {
	ok, err := s.limiter.Allow(ctx, s.policy, callerID, action)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrRateLimited
	}
	return nil
}
