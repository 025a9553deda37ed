package audit

import (
	"context"
	"time"
)

// Backend определяет, куда физически сохраняется журнал (JSON-файл, Postgres).
// Store остаётся единственным писателем своего бэкенда: все вызовы идут
// через буфер записи в порядке вставки.
type Backend interface {
	// Load возвращает все сохранённые записи в порядке вставки (по Seq).
	Load(ctx context.Context) ([]Entry, error)
	// WriteBatch сохраняет пачку записей за один раз.
	WriteBatch(ctx context.Context, entries []Entry) error
	// DeleteBefore удаляет записи с Timestamp строго раньше cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Truncate полностью очищает хранилище.
	Truncate(ctx context.Context) error
}
