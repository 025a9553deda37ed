package auth

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/domain"
)

// AgentKeyHeader — заголовок, в котором агент передаёт свой API-ключ.
const AgentKeyHeader = "X-Agent-Key"

// AgentKeyAuthenticator проверяет ключ агента. Неверный или истёкший ключ —
// ошибка, оборачивающая domain.ErrInvalidAgentKey.
type AgentKeyAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (domain.AgentKeyPublic, error)
}

type agentCtxKey struct{}

func WithAgent(ctx context.Context, a *domain.AgentKeyPublic) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, a)
}

func AgentFromContext(ctx context.Context) (*domain.AgentKeyPublic, bool) {
	a, ok := ctx.Value(agentCtxKey{}).(*domain.AgentKeyPublic)
	return a, ok && a != nil
}

// NewAgentKeyMiddleware требует валидный ключ агента в X-Agent-Key.
func NewAgentKeyMiddleware(v AgentKeyAuthenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logger.With(zap.String("mod", "agent_auth"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(AgentKeyHeader)
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "AGENT_AUTH_REQUIRED", "Agent API key required",
					"Include X-Agent-Key header with your agent API key")
				return
			}

			agent, err := v.Authenticate(r.Context(), apiKey)
			switch {
			case errors.Is(err, domain.ErrInvalidAgentKey):
				logger.Warn("invalid agent API key attempt", zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr))
				writeError(w, http.StatusUnauthorized, "INVALID_AGENT_KEY", "Invalid or expired agent API key", err.Error())
				return
			case err != nil:
				logger.Error("agent authentication error", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "AUTH_ERROR", "Authentication error", err.Error())
				return
			}

			logger.Debug("agent authenticated", zap.String("key_id", agent.ID), zap.String("name", agent.Name))
			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), &agent)))
		})
	}
}
