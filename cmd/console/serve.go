package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/cache"
	"github.com/xela07ax/mission-control/internal/console/handler"
	"github.com/xela07ax/mission-control/internal/console/server"
	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/gateway"
	"github.com/xela07ax/mission-control/internal/infra"
	"github.com/xela07ax/mission-control/internal/infra/auth"
	"github.com/xela07ax/mission-control/internal/stream"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API and websocket stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	metrics := infra.NewMetrics(nil)
	if cfg.Metrics.Enabled {
		metrics = infra.NewMetrics(prometheus.DefaultRegisterer)
	}

	st, err := a.openStorage(ctx, metrics)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			st.Close(ctx)
			return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
		}
	}

	hub := stream.NewHub(stream.Config{
		PingInterval:      cfg.Stream.PingInterval,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		WriteTimeout:      cfg.Stream.WriteTimeout,
		SendBuffer:        cfg.Stream.SendBuffer,
		MaxMessageSize:    cfg.Stream.MaxMessageSize,
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
	}, metrics, logger)

	broadcasters := []audit.Broadcaster{hub}
	var relay *stream.Relay
	if rdb != nil {
		// Чужие записи сначала попадают в локальный журнал, потом в hub
		relay = stream.NewRelay(rdb, audit.NewMirror(st.store, logger, hub), logger)
		broadcasters = append(broadcasters, relay)
	}
	rec := audit.NewRecorder(st.store, logger, broadcasters...)

	jwt, err := newJWTManager(cfg.Auth)
	if err != nil {
		st.Close(ctx)
		return err
	}

	var agentCache cache.Cache = cache.NewMemory()
	if rdb != nil {
		agentCache = cache.NewRedis(rdb)
	}
	gw := newGatewayClient(cfg.Gateway, metrics, logger)

	authSvc := service.NewAuthService(st.users, jwt, rec, cfg.Auth.BcryptCost, logger)
	agentSvc := service.NewAgentService(gw, agentCache, cfg.Cache.AgentsTTL, rec, hub, logger)
	auditSvc := service.NewAuditService(st.store)
	keySvc := service.NewAgentKeyService(st.keys, rec, cfg.Auth.BcryptCost, logger)

	if created, err := authSvc.EnsureAdmin(ctx, cfg.Auth.BootstrapAdmin.Username,
		cfg.Auth.BootstrapAdmin.Email, cfg.Auth.BootstrapAdmin.Password); err != nil {
		st.Close(ctx)
		return fmt.Errorf("bootstrap admin: %w", err)
	} else if created {
		logger.Info("bootstrap admin created", zap.String("username", cfg.Auth.BootstrapAdmin.Username))
	}

	var janitor *audit.Janitor
	if cfg.Audit.CleanupSchedule != "" {
		janitor, err = audit.NewJanitor(st.store, audit.JanitorConfig{
			RetentionDays: cfg.Audit.RetentionDays,
			Schedule:      cfg.Audit.CleanupSchedule,
			RunOnStart:    cfg.Audit.CleanupOnStart,
		}, logger)
		if err != nil {
			st.Close(ctx)
			return err
		}
	}

	opts := server.Options{AllowedOrigins: cfg.CORS.AllowedOrigins, AgentKeys: keySvc}
	if cfg.Audit.LogAPICalls {
		opts.Recorder = rec
	}
	api := server.NewConsoleServer(jwt, server.Handlers{
		Auth:   handler.NewAuthHandler(authSvc, logger),
		Users:  handler.NewUsersHandler(authSvc, logger),
		Agents: handler.NewAgentHandler(agentSvc, logger),
		Audit:  handler.NewAuditHandler(auditSvc, logger),
		Health: handler.NewHealthHandler(agentSvc, hub, cfg.Gateway.UseMock),
		Stream: stream.NewHandler(hub, jwt, logger),

		AgentKeys: handler.NewAgentKeysHandler(keySvc, logger),
	}, opts, metrics, logger)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("console api started", zap.String("addr", httpSrv.Addr), zap.Bool("gateway_mock", cfg.Gateway.UseMock))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console api: %w", err)
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			logger.Info("metrics server started", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
	}
	if janitor != nil {
		janitor.Start(gctx)
	}

	// Останов: сначала перестаём принимать запросы, затем закрываем потоки и дописываем журнал
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("console api shutdown: %w", err))
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutCtx)
		}
		if err := hub.Shutdown(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("stream shutdown: %w", err))
		}
		if janitor != nil {
			_ = janitor.Stop(shutCtx)
		}
		if err := st.store.Flush(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("audit flush: %w", err))
		}
		st.Close(shutCtx)
		if rdb != nil {
			_ = rdb.Close()
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("stopped", zap.Error(err))
	return err
}

// newJWTManager: RS256, если заданы оба ключа, иначе HS256 на секрете.
func newJWTManager(cfg infra.AuthConfig) (*auth.JWTManager, error) {
	if len(cfg.PrivateKey) > 0 && len(cfg.PublicKey) > 0 {
		priv, err := auth.ParseRSAPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub, err := auth.ParseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		return auth.NewRSAManager(priv, pub, cfg.TokenTTL)
	}
	return auth.NewHMACManager([]byte(cfg.JWTSecret), cfg.TokenTTL)
}

func newGatewayClient(cfg infra.GatewayConfig, metrics *infra.Metrics, logger *zap.Logger) gateway.Client {
	if cfg.UseMock {
		logger.Warn("using mock gateway, agent data is synthetic")
		return gateway.NewMockClient()
	}
	cli := gateway.NewCLIClient(gateway.ExecRunner{}, gateway.CLIConfig{
		Binary:         cfg.Binary,
		StatusTimeout:  cfg.StatusTimeout,
		HealthTimeout:  cfg.HealthTimeout,
		MessageTimeout: cfg.MessageTimeout,
		ConfigTimeout:  cfg.ConfigTimeout,
	}, metrics, logger)
	return gateway.NewReliableClient(cli, gateway.ReliabilityConfig{
		CBMaxRequests: cfg.CBMaxRequests,
		CBInterval:    cfg.CBInterval,
		CBTimeout:     cfg.CBTimeout,
		CBFailures:    cfg.CBFailures,
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		ReadAttempts:  cfg.ReadAttempts,
		RetryDelay:    cfg.RetryDelay,
	}, metrics, logger)
}
