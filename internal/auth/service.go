package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"AgentStep/pkg/logger"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode  Mode
	keys  []keyEntry
	audit *slog.Logger
}

type keyEntry struct {
	digest  [sha256.Size]byte
	subject *Subject
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}

	seen := make(map[[sha256.Size]byte]string, len(cfg.Keys))
	for i, key := range cfg.Keys {
		secret := strings.TrimSpace(key.Key)
		if secret == "" && key.KeyEnv != "" {
			secret = strings.TrimSpace(os.Getenv(key.KeyEnv))
		}
		if secret == "" {
			return nil, fmt.Errorf("auth key #%d (%s) has no secret", i, key.Name)
		}
		name := strings.TrimSpace(key.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i)
		}
		digest := sha256.Sum256([]byte(secret))
		if other, dup := seen[digest]; dup {
			return nil, fmt.Errorf("auth keys %s and %s share the same secret", other, name)
		}
		seen[digest] = name
		subject := &Subject{
			Name:        name,
			Permissions: append([]string(nil), key.Permissions...),
			Disabled:    key.Disabled,
		}
		subject.normalise()
		svc.keys = append(svc.keys, keyEntry{digest: digest, subject: subject})
	}
	if len(svc.keys) == 0 {
		return nil, errors.New("api_key mode requires at least one key")
	}
	return svc, nil
}

// Enabled 报告是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 校验 Authorization 头中的 Bearer 令牌。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var matched *Subject
	// 遍历全部密钥，比较耗时与命中位置无关。
	for _, entry := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], entry.digest[:]) == 1 {
			matched = entry.subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	if matched.Disabled {
		return nil, ErrSubjectRevoked
	}
	return matched, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
