package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xela07ax/mission-control/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и HTTP API, и websocket-рукопожатие
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type ctxKey struct{}

// WithClaims кладёт проверенные claims в контекст.
func WithClaims(ctx context.Context, c *domain.CustomClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*domain.CustomClaims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*domain.CustomClaims)
	return c, ok && c != nil
}

// TokenFromRequest достаёт токен из "Authorization: Bearer" или из ?token=.
// Браузерный WebSocket не умеет ставить заголовки, поэтому query-параметр тоже принимаем.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// NewMiddleware требует валидный Bearer-токен в заголовке.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("mod", "auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "NO_TOKEN", "Authorization token required",
					"Include Authorization: Bearer <token> header")
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid authorization header format",
					"Use format: Bearer <token>")
				return
			}

			claims, err := v.VerifyToken(parts[1])
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// NewOptionalMiddleware кладёт claims в контекст, если токен передан. Без заголовка запрос
// идёт дальше анонимно, а битый токен отклоняется так же, как в NewMiddleware.
func NewOptionalMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	required := NewMiddleware(v, logger)
	return func(next http.Handler) http.Handler {
		withAuth := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			withAuth.ServeHTTP(w, r)
		})
	}
}

// RequireRole пропускает только перечисленные роли. Ставится после NewMiddleware.
func RequireRole(logger *zap.Logger, roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
		names = append(names, string(r))
	}
	logger = logger.With(zap.String("mod", "rbac"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "NO_TOKEN", "Authentication required",
					"This endpoint requires authentication")
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				logger.Warn("access denied - insufficient role",
					zap.String("user_id", claims.UserID),
					zap.String("role", string(claims.Role)),
					zap.Strings("required", names),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions",
					fmt.Sprintf("Required role: %s. Your role: %s", strings.Join(names, " or "), claims.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsAuthError сообщает, что ошибка относится к проверке токена.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoToken) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrInvalidToken)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
