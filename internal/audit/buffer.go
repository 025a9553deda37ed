package audit

/*
Буфер записи отвязывает Append от дискового/сетевого I/O.

- Non-blocking submit: Append кладёт запись в канал через select/default. При
  переполнении запись остаётся в памяти Store, но не попадёт в бэкенд
  (Load Shedding только для durability, метрика + error-лог).
- Batching: пакетная запись по размеру пачки или по таймеру.
- Control ops (Flush, DeleteBefore, Truncate) идут через тот же канал, поэтому
  бэкенд видит операции строго в порядке вставки.
- Drain Pattern: Close закрывает канал, воркер вычитывает остатки и делает финальный flush.

Окно потерь: всё, что лежит в канале и в текущей пачке, теряется при падении процесса.
*/

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xela07ax/mission-control/internal/infra"
	"go.uber.org/zap"
)

type BufferConfig struct {
	Size          int           // Ёмкость канала
	BatchSize     int           // Размер пачки для WriteBatch
	FlushInterval time.Duration // Максимальная задержка между Append и записью
}

func (c BufferConfig) withDefaults() BufferConfig {
	if c.Size <= 0 {
		c.Size = 10000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return c
}

var errBufferClosed = errors.New("audit buffer is closed")

type bufferOp struct {
	entry Entry
	ctrl  func(ctx context.Context) error // nil для обычной записи
	done  chan error
}

type writeBuffer struct {
	ch      chan bufferOp
	backend Backend
	cfg     BufferConfig
	metrics *infra.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex // Защищает closed и отправку в канал от гонки с close(ch)
	closed bool
	wg     sync.WaitGroup
}

func newWriteBuffer(backend Backend, cfg BufferConfig, metrics *infra.Metrics, logger *zap.Logger) *writeBuffer {
	cfg = cfg.withDefaults()
	b := &writeBuffer{
		ch:      make(chan bufferOp, cfg.Size),
		backend: backend,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "audit_buffer")),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

// submit никогда не блокирует. false означает, что запись не попадёт в бэкенд.
func (b *writeBuffer) submit(e Entry) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- bufferOp{entry: e}:
		return true
	default:
		b.metrics.AuditBufferOverflow.Inc()
		b.logger.Error("audit_buffer_overflow",
			zap.String("id", e.ID),
			zap.Uint64("seq", e.Seq),
			zap.String("action", string(e.Action)),
		)
		return false
	}
}

// do выполняет fn в воркере после записи всего, что было поставлено в очередь раньше.
func (b *writeBuffer) do(ctx context.Context, fn func(ctx context.Context) error) error {
	op := bufferOp{ctrl: fn, done: make(chan error, 1)}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errBufferClosed
	}
	select {
	case b.ch <- op:
		b.mu.RUnlock()
	case <-ctx.Done():
		b.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *writeBuffer) flush(ctx context.Context) error {
	return b.do(ctx, func(context.Context) error { return nil })
}

// close запирает вход и ждёт, пока воркер всё допишет.
func (b *writeBuffer) close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.logger.Info("stopping audit buffer: flushing pending entries...")
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("audit buffer stopped gracefully")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *writeBuffer) worker() {
	defer b.wg.Done()

	batch := make([]Entry, 0, b.cfg.BatchSize)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() error {
		b.metrics.AuditBufferFill.Set(float64(len(b.ch)))
		if len(batch) == 0 {
			return nil
		}
		// Background: контекст вызывающего может быть уже закрыт
		err := b.backend.WriteBatch(context.Background(), batch)
		if err != nil {
			b.metrics.AuditFlushFailures.Inc()
			b.logger.Error("audit flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = make([]Entry, 0, b.cfg.BatchSize)
		return err
	}

	for {
		select {
		case op, ok := <-b.ch:
			if !ok {
				_ = flush() // Финальный сброс
				b.logger.Info("audit worker finished")
				return
			}
			if op.ctrl == nil {
				batch = append(batch, op.entry)
				if len(batch) >= b.cfg.BatchSize {
					_ = flush()
				}
				continue
			}
			err := flush()
			if cerr := op.ctrl(context.Background()); cerr != nil {
				err = cerr
			}
			op.done <- err
		case <-ticker.C:
			_ = flush()
		}
	}
}
