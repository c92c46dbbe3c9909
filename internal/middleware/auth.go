// Package middleware provides HTTP middleware for the marketplace API.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/songforge/marketplace/pkg/logger"
)

type callerKey struct{}

// Claims are the JWT claims the marketplace cares about. The subject is the
// caller's account identifier.
type Claims struct {
	Account string `json:"account,omitempty"`
	jwt.RegisteredClaims
}

// CallerAccount returns the authenticated caller account, or "" when the
// request was not authenticated.
func CallerAccount(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCaller injects a caller account into the context. Intended for tests.
func WithCaller(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, callerKey{}, account)
}

// AuthMiddleware authenticates requests with an HMAC-signed bearer token.
type AuthMiddleware struct {
	secret    []byte
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests to
// skipPaths pass through unauthenticated.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{secret: secret, logger: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		account, err := m.authenticate(r)
		if err != nil {
			m.logger.WithError(err).WithField("path", r.URL.Path).Debug("authentication rejected")
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), account)))
	})
}

func (m *AuthMiddleware) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header {
		return "", fmt.Errorf("authorization header must be a bearer token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	account := strings.TrimSpace(claims.Account)
	if account == "" {
		account = strings.TrimSpace(claims.Subject)
	}
	if account == "" {
		return "", fmt.Errorf("token carries no account")
	}
	return account, nil
}

// IssueToken signs a token for the account. Used by tests and the dev
// tooling; production deployments are expected to mint tokens elsewhere.
func IssueToken(secret []byte, account string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Account: account,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
