package verification

import (
	"strings"
	"time"

	apperrors "github.com/adminmgmt/pkg/errors"
)

// Caller 发起验证的管理员
type Caller struct {
	ID    string
	Email string
}

// ConfirmRequest 验证码确认请求
type ConfirmRequest struct {
	VerificationCode string `json:"verificationCode"`
}

// Validate 校验请求
func (r *ConfirmRequest) Validate() error {
	r.VerificationCode = strings.TrimSpace(r.VerificationCode)
	if r.VerificationCode == "" {
		return apperrors.Validation("verificationCode is required")
	}
	return nil
}

// IssueResponse 验证码发送结果
type IssueResponse struct {
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int64     `json:"expiresIn"` // 秒
}

// ConfirmResponse 验证码确认结果
type ConfirmResponse struct {
	Confirmed bool `json:"confirmed"`
}
