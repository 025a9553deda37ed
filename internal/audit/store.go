package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/mission-control/internal/infra"
	"go.uber.org/zap"
)

var ErrStoreClosed = errors.New("audit store is closed")

// Store — append-only журнал аудита. Источник правды для чтения — память,
// бэкенд (если задан) получает записи асинхронно через буфер записи.
type Store struct {
	mu      sync.RWMutex
	entries []Entry // В порядке вставки: старые в начале
	ids     map[string]struct{}
	seq     uint64
	last    time.Time // Timestamp последней записи, не даёт времени идти назад
	closed  bool

	backend Backend
	shared  bool // Бэкенд общий для всех инстансов: чужие записи в нём уже есть
	buf     *writeBuffer
	bufCfg  BufferConfig
	now     func() time.Time
	metrics *infra.Metrics
	logger  *zap.Logger
}

type Option func(*Store)

// WithBackend подключает долговременное хранилище. Без него журнал живёт только в памяти.
func WithBackend(b Backend) Option { return func(s *Store) { s.backend = b } }

// WithSharedBackend помечает бэкенд как общий для нескольких инстансов (Postgres).
// Записи, пришедшие через Ingest, тогда в него повторно не пишутся.
func WithSharedBackend() Option { return func(s *Store) { s.shared = true } }

func WithBuffer(cfg BufferConfig) Option { return func(s *Store) { s.bufCfg = cfg } }

// WithClock подменяет источник времени (тесты, ретеншн).
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func WithMetrics(m *infra.Metrics) Option { return func(s *Store) { s.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore поднимает журнал и загружает сохранённые записи из бэкенда.
func NewStore(ctx context.Context, opts ...Option) (*Store, error) {
	s := &Store{
		ids: make(map[string]struct{}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = infra.NewMetrics(nil)
	}
	s.logger = s.logger.Named("audit_store")

	if s.backend != nil {
		loaded, err := s.backend.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load audit log: %w", err)
		}
		s.restore(loaded)
		s.buf = newWriteBuffer(s.backend, s.bufCfg, s.metrics, s.logger)
	}

	s.logger.Info("audit store ready", zap.Int("entries", len(s.entries)), zap.Bool("durable", s.backend != nil))
	return s, nil
}

func (s *Store) restore(loaded []Entry) {
	sort.SliceStable(loaded, func(i, j int) bool { return loaded[i].Seq < loaded[j].Seq })
	for _, e := range loaded {
		if _, dup := s.ids[e.ID]; dup || e.ID == "" {
			continue
		}
		// Старые файлы могут не знать про Seq
		if e.Seq <= s.seq {
			e.Seq = s.seq + 1
		}
		if e.Timestamp.Before(s.last) {
			e.Timestamp = s.last
		}
		s.seq = e.Seq
		s.last = e.Timestamp
		s.ids[e.ID] = struct{}{}
		s.entries = append(s.entries, e)
	}
}

// Append нормализует и очищает вход, назначает ID/Seq/Timestamp и вставляет
// запись как самую новую. Запись в бэкенд не ждёт.
func (s *Store) Append(ctx context.Context, in Input) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:        in.ID,
		UserID:    in.UserID,
		Username:  in.Username,
		Action:    in.Action,
		Resource:  in.Resource,
		Result:    in.Result,
		Details:   Sanitize(in.Details),
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
	}
	if !e.Action.Valid() {
		e.Action = ActionUnknown
	}
	if !e.Result.Valid() {
		e.Result = ResultFailure
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, ErrStoreClosed
	}

	if _, dup := s.ids[e.ID]; dup || e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Timestamp = in.Timestamp
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Timestamp.Before(s.last) {
		e.Timestamp = s.last
	}
	s.seq++
	e.Seq = s.seq
	s.last = e.Timestamp
	s.ids[e.ID] = struct{}{}
	s.entries = append(s.entries, e)

	// Под локом: порядок в канале совпадает с порядком Seq
	if s.buf != nil {
		s.buf.submit(e)
	}
	s.mu.Unlock()

	s.metrics.AuditEntries.WithLabelValues(string(e.Action), string(e.Result)).Inc()
	return e, nil
}

// Ingest вставляет запись, созданную другим инстансом. ID и Timestamp сохраняются
// (Timestamp не даёт уйти назад), Seq назначается локальный. Повтор по ID игнорируется: ok=false.
func (s *Store) Ingest(ctx context.Context, remote Entry) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	if remote.ID == "" {
		return Entry{}, false, errors.New("ingest: entry has no id")
	}

	e := remote
	e.Details = Sanitize(e.Details)
	if !e.Action.Valid() {
		e.Action = ActionUnknown
	}
	if !e.Result.Valid() {
		e.Result = ResultFailure
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, false, ErrStoreClosed
	}
	if _, dup := s.ids[e.ID]; dup {
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.Timestamp.Before(s.last) {
		e.Timestamp = s.last
	}
	s.seq++
	e.Seq = s.seq
	s.last = e.Timestamp
	s.ids[e.ID] = struct{}{}
	s.entries = append(s.entries, e)

	if s.buf != nil && !s.shared {
		s.buf.submit(e)
	}
	s.mu.Unlock()

	return e, true, nil
}

// Cleanup удаляет записи старше retentionDays дней относительно текущего времени
// и возвращает точное число удалённых из журнала.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays < 0 {
		return 0, fmt.Errorf("retention days must be non-negative, got %d", retentionDays)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrStoreClosed
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	// Timestamp не убывает, значит устаревшие записи — префикс
	n := sort.Search(len(s.entries), func(i int) bool { return !s.entries[i].Timestamp.Before(cutoff) })
	if n > 0 {
		for _, e := range s.entries[:n] {
			delete(s.ids, e.ID)
		}
		s.entries = append(make([]Entry, 0, len(s.entries)-n), s.entries[n:]...)
	}
	buf := s.buf
	s.mu.Unlock()

	s.metrics.AuditCleanupRemoved.Add(float64(n))
	s.logger.Info("audit cleanup", zap.Int("removed", n), zap.Int("retention_days", retentionDays), zap.Time("cutoff", cutoff))

	if buf != nil {
		err := buf.do(ctx, func(ctx context.Context) error {
			_, err := s.backend.DeleteBefore(ctx, cutoff)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("delete expired from backend: %w", err)
		}
	}
	return n, nil
}

// Clear полностью очищает журнал. Только для тестов и админских утилит.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	s.entries = nil
	s.ids = make(map[string]struct{})
	buf := s.buf
	s.mu.Unlock()

	s.logger.Warn("audit log cleared")
	if buf != nil {
		if err := buf.do(ctx, s.backend.Truncate); err != nil {
			return fmt.Errorf("truncate backend: %w", err)
		}
	}
	return nil
}

// Flush ждёт, пока всё добавленное к этому моменту окажется в бэкенде.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	buf := s.buf
	s.mu.RUnlock()
	if buf == nil {
		return nil
	}
	return buf.flush(ctx)
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close запирает журнал и дописывает буфер в бэкенд.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	buf := s.buf
	s.mu.Unlock()

	if buf != nil {
		return buf.close(ctx)
	}
	return nil
}
