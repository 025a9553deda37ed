package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/console/handler"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra"
	"github.com/xela07ax/mission-control/internal/infra/auth"
)

// Handlers — обработчики бизнес-доменов, собранные в cmd.
type Handlers struct {
	Auth   *handler.AuthHandler   // /api/auth
	Users  *handler.UsersHandler  // /api/users
	Agents *handler.AgentHandler  // /api/agents
	Audit  *handler.AuditHandler  // /api/audit-logs
	Health *handler.HealthHandler // /health
	Stream http.Handler           // /ws

	AgentKeys *handler.AgentKeysHandler // /api/agent-keys и /api/agent; nil — маршрутов нет
}

type Options struct {
	AllowedOrigins []string
	// Если задан, каждый аутентифицированный запрос к /api пишется в журнал как api.call
	Recorder *audit.Recorder
	// Проверка X-Agent-Key для /api/agent
	AgentKeys auth.AgentKeyAuthenticator
}

type ConsoleServer struct {
	router  *chi.Mux
	logger  *zap.Logger
	metrics *infra.Metrics
	opts    Options

	// Проверка токенов для HTTP API; websocket проверяет их сам при рукопожатии
	authValidator auth.TokenValidator
	h             Handlers
}

// NewConsoleServer инициализирует сервер дашборда со всеми зависимостями
func NewConsoleServer(v auth.TokenValidator, h Handlers, opts Options, metrics *infra.Metrics, logger *zap.Logger) *ConsoleServer {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		metrics:       metrics,
		opts:          opts,
		authValidator: v,
		h:             h,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", auth.AgentKeyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found",
			fmt.Sprintf("%s %s does not exist", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed",
			fmt.Sprintf("%s %s is not supported", r.Method, r.URL.Path))
	})

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", s.h.Health.ServeHTTP)
	// Токен проверяется внутри, до апгрейда
	r.Handle("/ws", s.h.Stream)

	authn := auth.NewMiddleware(s.authValidator, s.logger)
	admin := auth.RequireRole(s.logger, domain.RoleAdmin)
	control := auth.RequireRole(s.logger, domain.RoleAdmin, domain.RoleOperator)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			// Анонимно — viewer, с токеном администратора — любая роль
			r.With(auth.NewOptionalMiddleware(s.authValidator, s.logger)).Post("/register", s.h.Auth.Register)
			r.Post("/login", s.h.Auth.Login)
			r.With(authn).Post("/logout", s.h.Auth.Logout)
			r.With(authn).Get("/me", s.h.Auth.Me)
		})

		// Агенты ходят со своим ключом, а не с JWT
		if s.h.AgentKeys != nil && s.opts.AgentKeys != nil {
			r.Route("/agent", func(r chi.Router) {
				r.Use(auth.NewAgentKeyMiddleware(s.opts.AgentKeys, s.logger))
				r.Get("/me", s.h.AgentKeys.Whoami)
			})
		}

		// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР ---
		r.Group(func(r chi.Router) {
			r.Use(authn)
			if s.opts.Recorder != nil {
				// После authn, чтобы в записи был пользователь
				r.Use(audit.HTTPMiddleware(s.opts.Recorder, audit.ActionAPICall, routeResource))
			}

			r.Route("/users", func(r chi.Router) {
				r.Use(admin)
				r.Get("/", s.h.Users.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.h.Users.Get)
					r.Put("/role", s.h.Users.UpdateRole)
					r.Delete("/", s.h.Users.Delete)
				})
			})

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.h.Agents.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.h.Agents.Get)
					r.With(control).Post("/stop", s.h.Agents.Stop)
					r.With(control).Post("/restart", s.h.Agents.Restart)
					r.With(control).Post("/message", s.h.Agents.Message)
				})
			})

			r.Route("/audit-logs", func(r chi.Router) {
				r.Use(admin)
				r.Get("/", s.h.Audit.GetLogs)
				r.Get("/stats", s.h.Audit.GetStats)
			})

			if s.h.AgentKeys != nil {
				r.Route("/agent-keys", func(r chi.Router) {
					r.Use(admin)
					r.Get("/", s.h.AgentKeys.List)
					r.Post("/", s.h.AgentKeys.Create)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.h.AgentKeys.Get)
						r.Post("/revoke", s.h.AgentKeys.Revoke)
						r.Delete("/", s.h.AgentKeys.Delete)
					})
				})
			}
		})
	})
}

// requestLogger пишет строку на запрос и наблюдает латентность по шаблону маршрута.
func (s *ConsoleServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// recoverer отдаёт панику обработчика как INTERNAL_ERROR в общем конверте.
func (s *ConsoleServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panicked", zap.Any("panic", p), zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())))
				handler.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func routeResource(r *http.Request) string {
	route := chi.RouteContext(r.Context()).RoutePattern()
	if route == "" {
		route = r.URL.Path
	}
	return r.Method + " " + route
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
