package auth

import (
	"errors"
	"time"

	"github.com/adminmgmt/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenInvalid   = errors.New("token is invalid")
)

// 解析错误到对外错误的映射，未命中的一律视为无效
var tokenErrors = []struct {
	cause error
	err   error
}{
	{jwt.ErrTokenExpired, ErrTokenExpired},
	{jwt.ErrTokenMalformed, ErrTokenMalformed},
}

// Claims 管理员令牌声明，Subject 为管理员ID
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AdminID 管理员ID
func (c *Claims) AdminID() string {
	return c.Subject
}

// JWTManager 签发并校验管理员令牌
type JWTManager struct {
	secret   []byte
	issuer   string
	expireIn time.Duration
	parser   *jwt.Parser
}

func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &JWTManager{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		expireIn: time.Duration(cfg.Expire) * time.Second,
		parser:   jwt.NewParser(opts...),
	}
}

// GenerateToken 签发令牌
func (m *JWTManager) GenerateToken(adminID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expireIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken 校验令牌，缺少管理员ID的令牌视为无效
func (m *JWTManager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		for _, e := range tokenErrors {
			if errors.Is(err, e.cause) {
				return nil, e.err
			}
		}
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
