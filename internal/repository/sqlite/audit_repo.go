// Package sqlite — встраиваемый бэкенд журнала аудита для single-node установок без Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Драйвер SQLite без cgo

	"github.com/xela07ax/mission-control/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id          TEXT PRIMARY KEY,
    seq         INTEGER NOT NULL,
    ts          INTEGER NOT NULL,
    user_id     TEXT,
    username    TEXT,
    action      TEXT NOT NULL,
    resource    TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL,
    details     TEXT NOT NULL DEFAULT '',
    ip_address  TEXT,
    user_agent  TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_ts ON audit_logs(ts);
CREATE INDEX IF NOT EXISTS idx_audit_logs_seq ON audit_logs(seq);
`

type AuditRepo struct {
	db *sql.DB
}

// Open открывает (и при необходимости создаёт) базу по пути path.
func Open(path string) (*AuditRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	// Единственный писатель — буфер Store
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating audit database: %w", err)
	}
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Close() error { return r.db.Close() }

func (r *AuditRepo) Load(ctx context.Context) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seq, ts, user_id, username, action, resource, result, details, ip_address, user_agent
		FROM audit_logs ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load audit logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e                   audit.Entry
			seq, ts             int64
			action, result      string
			userID, username    sql.NullString
			ipAddress, userAgnt sql.NullString
		)
		if err := rows.Scan(&e.ID, &seq, &ts, &userID, &username, &action, &e.Resource, &result,
			&e.Details, &ipAddress, &userAgnt); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit log: %w", err)
		}
		e.Seq = uint64(seq)
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Action = audit.Action(action)
		e.Result = audit.Result(result)
		e.UserID = nullable(userID)
		e.Username = nullable(username)
		e.IPAddress = nullable(ipAddress)
		e.UserAgent = nullable(userAgnt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO audit_logs
		(id, seq, ts, user_id, username, action, resource, result, details, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.ID, int64(e.Seq), e.Timestamp.UnixNano(), e.UserID, e.Username,
			string(e.Action), e.Resource, string(e.Result), e.Details, e.IPAddress, e.UserAgent,
		); err != nil {
			return fmt.Errorf("sqlite: insert %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (r *AuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete expired audit logs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *AuditRepo) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs`); err != nil {
		return fmt.Errorf("sqlite: truncate audit logs: %w", err)
	}
	return nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := strings.Clone(ns.String)
	return &s
}
