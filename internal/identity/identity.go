// Package identity issues server-side viewer tokens and verifies the admin
// key. It replaces the old client-held email/admin-flag scheme: the server
// is the source of truth for who a token belongs to.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/lawnet-hq/accessd/internal/platform/httpx"
)

// ErrUnknownToken marks a token with no backing session.
var ErrUnknownToken = errors.New("identity: unknown token")

// AdminKeyHeader carries the admin key on privileged requests.
const AdminKeyHeader = "X-Admin-Key"

// Service manages viewer tokens in Redis and checks the admin key against
// its bcrypt hash.
type Service struct {
	client       *redis.Client
	ttl          time.Duration
	adminKeyHash []byte
	logger       *slog.Logger
}

// NewService constructs a Service.
func NewService(client *redis.Client, adminKeyHash string, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{client: client, ttl: ttl, adminKeyHash: []byte(adminKeyHash), logger: logger}
}

func tokenKey(token string) string {
	return "identity:viewer:" + token
}

// Issue creates a viewer token bound to the given email.
func (s *Service) Issue(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", errors.New("identity: email is required")
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: token entropy: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if err := s.client.Set(ctx, tokenKey(token), email, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("identity: store token: %w", err)
	}
	return token, nil
}

// Resolve returns the email bound to a token, refreshing its TTL.
func (s *Service) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnknownToken
	}
	email, err := s.client.Get(ctx, tokenKey(token)).Result()
	if err == redis.Nil {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("identity: resolve token: %w", err)
	}
	if err := s.client.Expire(ctx, tokenKey(token), s.ttl).Err(); err != nil {
		s.logger.Warn("refresh token ttl", slog.Any("error", err))
	}
	return email, nil
}

// Revoke invalidates a viewer token.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("identity: revoke token: %w", err)
	}
	return nil
}

// VerifyAdminKey checks a presented key against the configured hash.
func (s *Service) VerifyAdminKey(key string) bool {
	if key == "" || len(s.adminKeyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.adminKeyHash, []byte(key)) == nil
}

// RequireAdmin guards a route subtree with the admin key header.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.VerifyAdminKey(r.Header.Get(AdminKeyHeader)) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "admin key required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
