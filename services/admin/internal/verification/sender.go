package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/adminmgmt/pkg/broadcast"
	"github.com/adminmgmt/pkg/logger"
	"github.com/adminmgmt/pkg/utils"
	"go.uber.org/zap"
)

// NotificationTopic 验证码通知，由邮件服务消费
const NotificationTopic = "notifications:verification"

// Notification 验证码通知
type Notification struct {
	ID        string    `json:"id"`
	AdminID   string    `json:"adminId"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sender 验证码投递
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// NewSender 按渠道创建投递方式
func NewSender(channel string, pub broadcast.Publisher) (Sender, error) {
	switch channel {
	case "", "log":
		return LogSender{}, nil
	case "publish":
		if pub == nil {
			return nil, fmt.Errorf("publish sender requires a publisher")
		}
		return NewPublishSender(pub), nil
	default:
		return nil, fmt.Errorf("unsupported verification channel: %s", channel)
	}
}

// LogSender 开发环境使用，验证码只写入调试日志
type LogSender struct{}

// Send 写日志
func (LogSender) Send(ctx context.Context, n *Notification) error {
	logger.Info("验证码已生成",
		zap.String("id", n.ID),
		zap.String("adminId", n.AdminID),
		zap.String("email", utils.MaskEmail(n.Email)),
		zap.Time("expiresAt", n.ExpiresAt),
	)
	logger.Debug("验证码", zap.String("id", n.ID), zap.String("code", n.Code))
	return nil
}

// PublishSender 通过消息总线交给邮件服务发送
type PublishSender struct {
	pub   broadcast.Publisher
	topic string
}

// NewPublishSender 创建消息投递
func NewPublishSender(pub broadcast.Publisher) *PublishSender {
	return &PublishSender{pub: pub, topic: NotificationTopic}
}

// Send 发布通知
func (s *PublishSender) Send(ctx context.Context, n *Notification) error {
	if err := s.pub.Publish(ctx, s.topic, n); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID, err)
	}
	return nil
}
