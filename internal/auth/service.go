package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"IntentLayer-Lite/pkg/logger"
)

const defaultTokenTTL = 24 * time.Hour

// claims 是访问令牌的载荷，scope 以空格分隔。
type claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Service 负责签发与校验 API 访问令牌。
type Service struct {
	mode     Mode
	secret   []byte
	issuer   string
	audience []string
	ttl      time.Duration
	now      func() time.Time
	audit    *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:     mode,
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: append([]string(nil), cfg.Audience...),
		ttl:      cfg.TokenTTL,
		now:      time.Now,
		audit:    logger.Audit(),
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultTokenTTL
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.Secret)
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// IssueToken 为 subject 签发 HS256 令牌，ttl 为零时使用配置的有效期。
func (s *Service) IssueToken(subject string, scopes []string, ttl time.Duration) (*IssuedToken, error) {
	if s == nil || s.mode != ModeJWT {
		return nil, ErrDisabled
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errors.New("token subject is required")
	}
	scopes = normaliseScopes(scopes)
	if len(scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.now()
	expires := now.Add(ttl)
	c := claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if len(s.audience) > 0 {
		c.Audience = jwt.ClaimStrings(s.audience)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.audit.Info("token issued",
		slog.String("subject", subject),
		slog.String("scope", c.Scope),
		slog.String("jti", c.ID),
		slog.Int64("expires_at", expires.Unix()),
	)
	return &IssuedToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
		ExpiresAt:   expires.Unix(),
		Subject:     subject,
		Scopes:      scopes,
	}, nil
}

// AuthenticateRequest 验证 Authorization 头并返回调用方。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.verify(token)
}

// verify 校验签名后使用服务自身的时钟检查时间类声明。
func (s *Service) verify(token string) (*Subject, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var c claims
	if _, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	now := s.now()
	if !c.VerifyExpiresAt(now, true) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}
	if !c.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrInvalidToken)
	}
	if s.issuer != "" && !c.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}
	if len(s.audience) > 0 {
		matched := false
		for _, aud := range s.audience {
			if c.VerifyAudience(aud, true) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: unexpected audience", ErrInvalidToken)
		}
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	subject := &Subject{
		ID:     c.Subject,
		Scopes: normaliseScopes([]string{c.Scope}),
	}
	if c.ExpiresAt != nil {
		subject.ExpiresAt = c.ExpiresAt.Unix()
	}
	subject.normalise()
	return subject, nil
}
