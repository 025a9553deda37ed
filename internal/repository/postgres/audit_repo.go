package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/mission-control/internal/audit"
)

// AuditRepo — бэкенд журнала аудита в PostgreSQL.
type AuditRepo struct {
	db dbPool
}

func NewAuditRepo(db dbPool) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Load(ctx context.Context) ([]audit.Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, seq, ts, user_id, username, action, resource, result, details, ip_address, user_agent
		FROM audit_logs ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load audit logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e         audit.Entry
			seq       int64
			action    string
			result    string
			userAgent *string
		)
		if err := rows.Scan(&e.ID, &seq, &e.Timestamp, &e.UserID, &e.Username,
			&action, &e.Resource, &result, &e.Details, &e.IPAddress, &userAgent); err != nil {
			return nil, fmt.Errorf("postgres: scan audit log: %w", err)
		}
		e.Seq = uint64(seq)
		e.Action = audit.Action(action)
		e.Result = audit.Result(result)
		e.UserAgent = userAgent
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate audit logs: %w", err)
	}
	return out, nil
}

// WriteBatch вставляет пачку одним INSERT ... VALUES (...), (...).
// Повторная запись той же записи игнорируется.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	const numFields = 11
	var placeholders strings.Builder
	vals := make([]any, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		if i > 0 {
			placeholders.WriteByte(',')
		}
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11)

		vals = append(vals,
			e.ID, int64(e.Seq), e.Timestamp, e.UserID, e.Username,
			string(e.Action), e.Resource, string(e.Result), e.Details, e.IPAddress, e.UserAgent,
		)
	}

	query := `INSERT INTO audit_logs
		(id, seq, ts, user_id, username, action, resource, result, details, ip_address, user_agent)
		VALUES ` + placeholders.String() + ` ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}

func (r *AuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_logs WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired audit logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *AuditRepo) Truncate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `TRUNCATE audit_logs`); err != nil {
		return fmt.Errorf("postgres: truncate audit logs: %w", err)
	}
	return nil
}

// Count нужен для health/админки, Store сам считает по памяти.
func (r *AuditRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count audit logs: %w", err)
	}
	return n, nil
}
