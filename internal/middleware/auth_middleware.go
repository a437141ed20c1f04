package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/models"
	"github.com/schoolport/schoolport/internal/service"
)

type contextKey string

const userKey contextKey = "user"

// UserFromContext returns the identity resolved by RequireAuth.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok
}

type AuthMiddleware struct {
	auth   *service.AuthService
	logger *logrus.Logger
}

func NewAuthMiddleware(auth *service.AuthService, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		auth:   auth,
		logger: logger,
	}
}

// RequireAuth resolves the Bearer access token into a live identity and puts
// it on the request context. The active check rides along: a deactivated
// identity is rejected even while its access token is formally valid.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, "Missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondUnauthorized(w, "Invalid authorization header format")
			return
		}

		user, err := m.auth.Authenticate(r.Context(), parts[1])
		if err != nil {
			if errors.Is(err, service.ErrUnavailable) {
				m.logger.WithError(err).Error("Authentication store unreachable")
				m.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Service temporarily unavailable")
				return
			}
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole gates a route to the given roles. It must run after
// RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				m.respondUnauthorized(w, "Authentication required")
				return
			}
			if _, ok := allowed[user.Role]; !ok {
				m.respondError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter, message string) {
	m.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
