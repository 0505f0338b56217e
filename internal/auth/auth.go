package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/perigee-labs/medrag/pkg/models"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const UserContextKey ContextKey = "user"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoToken      = errors.New("no authentication token")
)

type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type LoginResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	Token    string `json:"token,omitempty"`
}

// Service issues and validates bearer tokens. When disabled, the middleware
// passes every request through.
type Service struct {
	secret  []byte
	enabled bool
	ttl     time.Duration
}

func NewService(jwtSecret string, enabled bool) *Service {
	return &Service{
		secret:  []byte(jwtSecret),
		enabled: enabled,
		ttl:     24 * time.Hour,
	}
}

func (s *Service) Enabled() bool {
	return s.enabled
}

// GenerateToken creates a signed JWT for the user.
func (s *Service) GenerateToken(user models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.Username,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a token string, returning the user it
// was issued to.
func (s *Service) ValidateToken(tokenString string) (models.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return models.User{}, ErrInvalidToken
	}
	return models.User{Username: claims.Username, Role: claims.Role}, nil
}

// Middleware enforces bearer auth on next when the service is enabled. The
// authenticated user is stored on the request context.
func (s *Service) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.enabled {
			next(w, r)
			return
		}

		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "No authentication token", http.StatusUnauthorized)
			return
		}

		user, err := s.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(r *http.Request) (models.User, bool) {
	u, ok := r.Context().Value(UserContextKey).(models.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("auth_token"); err == nil {
		return c.Value
	}
	return ""
}
