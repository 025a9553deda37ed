package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/infra"
	"github.com/xela07ax/mission-control/internal/repository/file"
	"github.com/xela07ax/mission-control/internal/repository/postgres"
	"github.com/xela07ax/mission-control/internal/repository/sqlite"
)

// storage — открытые хранилища и их закрытие в обратном порядке.
type storage struct {
	pool    *pgxpool.Pool
	users   service.UserRepository
	keys    service.AgentKeyRepository
	store   *audit.Store
	closers []func()
}

func (s *storage) Close(ctx context.Context) {
	if s.store != nil {
		_ = s.store.Close(ctx)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStorage поднимает пользователей, ключи агентов и журнал по конфигу. Пул Postgres общий.
func (a *app) openStorage(ctx context.Context, metrics *infra.Metrics) (*storage, error) {
	st := &storage{}
	cfg := a.cfg

	if cfg.UsesPostgres() {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, err
		}
		st.pool = pool
		st.closers = append(st.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			st.Close(ctx)
			return nil, err
		}
	}

	switch cfg.Users.Storage {
	case "postgres":
		st.users = postgres.NewUserRepo(st.pool)
	default:
		users, err := file.NewUserRepo(a.fs, cfg.Users.Path, a.logger)
		if err != nil {
			st.Close(ctx)
			return nil, fmt.Errorf("open users file: %w", err)
		}
		st.users = users
	}

	switch cfg.AgentKeys.Storage {
	case "postgres":
		st.keys = postgres.NewAgentKeyRepo(st.pool)
	default:
		keys, err := file.NewAgentKeyRepo(a.fs, cfg.AgentKeys.Path, a.logger)
		if err != nil {
			st.Close(ctx)
			return nil, fmt.Errorf("open agent keys file: %w", err)
		}
		st.keys = keys
	}

	opts := []audit.Option{
		audit.WithLogger(a.logger),
		audit.WithMetrics(metrics),
		audit.WithBuffer(audit.BufferConfig{
			Size:          cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
		}),
	}
	switch cfg.Audit.Storage {
	case "file":
		opts = append(opts, audit.WithBackend(file.NewAuditRepo(a.fs, cfg.Audit.Path, a.logger)))
	case "sqlite":
		repo, err := sqlite.Open(cfg.Audit.Path)
		if err != nil {
			st.Close(ctx)
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = repo.Close() })
		opts = append(opts, audit.WithBackend(repo))
	case "postgres":
		opts = append(opts, audit.WithBackend(postgres.NewAuditRepo(st.pool)), audit.WithSharedBackend())
	}

	store, err := audit.NewStore(ctx, opts...)
	if err != nil {
		st.Close(ctx)
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	st.store = store
	a.logger.Info("storage ready",
		zap.String("users", cfg.Users.Storage),
		zap.String("agent_keys", cfg.AgentKeys.Storage),
		zap.String("audit", cfg.Audit.Storage),
		zap.Int("audit_entries", store.Count()))
	return st, nil
}
