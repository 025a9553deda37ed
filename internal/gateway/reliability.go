package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra"
)

type ReliabilityConfig struct {
	// Circuit Breaker
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration // Через сколько CB попробует "закрыться"
	CBFailures    uint32        // Подряд идущих ошибок до размыкания

	// Лимитер
	RateLimit float64
	RateBurst int

	// Повторы только для чтения: управляющие команды не идемпотентны
	ReadAttempts uint
	RetryDelay   time.Duration
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 3
	}
	if c.CBInterval <= 0 {
		c.CBInterval = 5 * time.Second
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.CBFailures == 0 {
		c.CBFailures = 5
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.ReadAttempts == 0 {
		c.ReadAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	return c
}

// ReliableClient оборачивает Client лимитером, предохранителем и повторами для чтения.
type ReliableClient struct {
	next    Client
	cfg     ReliabilityConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewReliableClient(next Client, cfg ReliabilityConfig, metrics *infra.Metrics, logger *zap.Logger) *ReliableClient {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	logger = logger.With(zap.String("mod", "gateway_reliability"))

	const name = "gateway-cli"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CBFailures
		},
		// Таймаут и отказ шлюза считаем ошибкой, отмену вызывающим — нет
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", zap.String("name", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
		},
	})

	return &ReliableClient{
		next:    next,
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  logger,
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	}
	return 0
}

// guard: лимитер, затем предохранитель.
func (w *ReliableClient) guard(ctx context.Context, fn func() error) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	_, err := w.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (w *ReliableClient) Sessions(ctx context.Context) ([]domain.GatewaySession, error) {
	var sessions []domain.GatewaySession
	err := w.guard(ctx, func() error {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.ReadAttempts),
			retry.Delay(w.cfg.RetryDelay),
			retry.LastErrorOnly(true),
			// CLI не найден — повторять бессмысленно
			retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrUnavailable) }),
			retry.DelayType(retry.BackOffDelay),
		)
		return r.Do(func() error {
			var callErr error
			sessions, callErr = w.next.Sessions(ctx)
			return callErr
		})
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Health идёт мимо предохранителя: именно им проверяют, ожил ли шлюз.
func (w *ReliableClient) Health(ctx context.Context) bool {
	return w.next.Health(ctx)
}

func (w *ReliableClient) SendMessage(ctx context.Context, sessionID, message string) error {
	return w.guard(ctx, func() error { return w.next.SendMessage(ctx, sessionID, message) })
}

func (w *ReliableClient) DisableHeartbeat(ctx context.Context, agentID string) error {
	return w.guard(ctx, func() error { return w.next.DisableHeartbeat(ctx, agentID) })
}

func (w *ReliableClient) EnableHeartbeat(ctx context.Context, agentID, interval string) error {
	return w.guard(ctx, func() error { return w.next.EnableHeartbeat(ctx, agentID, interval) })
}
