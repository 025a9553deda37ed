package file

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
)

// AuditRepo — файловый бэкенд журнала: один JSON-массив записей.
// Держит зеркало файла в памяти, каждая операция перезаписывает файл целиком.
type AuditRepo struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	entries []audit.Entry
	loaded  bool
}

func NewAuditRepo(fs afero.Fs, path string, logger *zap.Logger) *AuditRepo {
	return &AuditRepo{
		fs:     fs,
		path:   path,
		logger: logger.With(zap.String("mod", "audit_file"), zap.String("path", path)),
	}
}

func (r *AuditRepo) Load(_ context.Context) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []audit.Entry
	found, err := readJSON(r.fs, r.path, &entries)
	if err != nil {
		return nil, err
	}
	if !found {
		r.logger.Info("audit log file not found, starting fresh")
	}
	r.entries = entries
	r.loaded = true
	return append([]audit.Entry(nil), entries...), nil
}

func (r *AuditRepo) WriteBatch(_ context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(); err != nil {
		return err
	}

	next := append(append(make([]audit.Entry, 0, len(r.entries)+len(entries)), r.entries...), entries...)
	if err := writeJSONAtomic(r.fs, r.path, next); err != nil {
		return err
	}
	r.entries = next
	r.logger.Debug("audit batch saved", zap.Int("batch", len(entries)), zap.Int("total", len(next)))
	return nil
}

func (r *AuditRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoaded(); err != nil {
		return 0, err
	}

	kept := make([]audit.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(r.entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := writeJSONAtomic(r.fs, r.path, kept); err != nil {
		return 0, err
	}
	r.entries = kept
	return removed, nil
}

func (r *AuditRepo) Truncate(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := writeJSONAtomic(r.fs, r.path, []audit.Entry{}); err != nil {
		return err
	}
	r.entries = nil
	r.loaded = true
	return nil
}

// ensureLoaded нужен, если WriteBatch пришёл раньше Load (например, из утилиты).
func (r *AuditRepo) ensureLoaded() error {
	if r.loaded {
		return nil
	}
	if _, err := readJSON(r.fs, r.path, &r.entries); err != nil {
		return fmt.Errorf("load before write: %w", err)
	}
	r.loaded = true
	return nil
}
