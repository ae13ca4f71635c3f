// Package auth resolves the calling principal from a bearer token.
package auth

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the verified identity of a caller.
type Principal struct {
	UserID string
	Email  string
}

// Middleware validates JWT bearer tokens and injects the Principal into
// the request context. Paths listed as public pass through without a token.
type Middleware struct {
	secretKey []byte
	logger    *zap.Logger
	public    map[string]bool
}

// NewMiddleware creates the auth middleware. Falls back to a development
// secret when BRAIN_JWT_SECRET is unset.
func NewMiddleware(secret string, logger *zap.Logger, publicPaths ...string) *Middleware {
	if secret == "" {
		secret = os.Getenv("BRAIN_JWT_SECRET")
	}
	if secret == "" {
		secret = "default-dev-secret-change-in-production-32chars"
		logger.Warn("Using default JWT secret - set BRAIN_JWT_SECRET in production")
	}
	if len(secret) < 32 {
		secret = secret + strings.Repeat("x", 32-len(secret))
		logger.Warn("JWT secret too short, using padded value")
	}

	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}

	return &Middleware{
		secretKey: []byte(secret),
		logger:    logger,
		public:    public,
	}
}

// Wrap returns a handler that authenticates the request before invoking next.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public[r.URL.Path] && r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, `{"error":"Authentication required"}`, http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.secretKey, nil
		})
		if err != nil || !token.Valid {
			m.logger.Warn("Invalid JWT token", zap.Error(err))
			http.Error(w, `{"error":"Invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			http.Error(w, `{"error":"Invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		userID, _ := claims["sub"].(string)
		if userID == "" {
			userID, _ = claims["user_id"].(string)
		}
		if userID == "" {
			http.Error(w, `{"error":"Token missing user identifier"}`, http.StatusUnauthorized)
			return
		}

		email, _ := claims["email"].(string)

		ctx := WithPrincipal(r.Context(), &Principal{UserID: userID, Email: email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFrom extracts the authenticated principal, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// GenerateToken creates a signed token for a user. Used by tests and
// by deployments that mint service tokens out of band.
func (m *Middleware) GenerateToken(userID, email string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"exp":   jwt.NewNumericDate(time.Now().Add(ttl)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}
