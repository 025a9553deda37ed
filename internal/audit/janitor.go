package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultRetentionDays = 90

type JanitorConfig struct {
	RetentionDays int
	Schedule      string // Cron-выражение, например "@daily" или "0 3 * * *"
	RunOnStart    bool
	Timeout       time.Duration // Лимит на один проход
}

// Janitor по расписанию вызывает Store.Cleanup.
type Janitor struct {
	store  *Store
	cfg    JanitorConfig
	cron   *cron.Cron
	logger *zap.Logger
}

func NewJanitor(store *Store, cfg JanitorConfig, logger *zap.Logger) (*Janitor, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@daily"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}

	j := &Janitor{
		store:  store,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With(zap.String("mod", "audit_janitor")),
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, j.tick); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

func (j *Janitor) Start(ctx context.Context) {
	if j.cfg.RunOnStart {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Error("startup cleanup failed", zap.Error(err))
		}
	}
	j.cron.Start()
	j.logger.Info("audit janitor started",
		zap.String("schedule", j.cfg.Schedule),
		zap.Int("retention_days", j.cfg.RetentionDays),
	)
}

// Stop останавливает планировщик и ждёт текущий проход.
func (j *Janitor) Stop(ctx context.Context) error {
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()
	return j.store.Cleanup(ctx, j.cfg.RetentionDays)
}

func (j *Janitor) tick() {
	removed, err := j.RunOnce(context.Background())
	if err != nil {
		j.logger.Error("scheduled cleanup failed", zap.Error(err))
		return
	}
	j.logger.Debug("scheduled cleanup done", zap.Int("removed", removed))
}
