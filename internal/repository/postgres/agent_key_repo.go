package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xela07ax/mission-control/internal/domain"
)

type AgentKeyRepo struct {
	db dbPool
}

func NewAgentKeyRepo(db dbPool) *AgentKeyRepo {
	return &AgentKeyRepo{db: db}
}

const agentKeyColumns = `id, name, key_hash, prefix, created_at, last_used_at, expires_at, is_active, permissions, metadata`

func scanAgentKey(row pgx.Row) (*domain.AgentKey, error) {
	k := &domain.AgentKey{}
	var meta []byte
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Prefix, &k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt,
		&k.IsActive, &k.Permissions, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &k.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return k, nil
}

func (r *AgentKeyRepo) Create(ctx context.Context, k *domain.AgentKey) error {
	meta, err := json.Marshal(k.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	perms := k.Permissions
	if perms == nil {
		perms = []string{}
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO agent_keys (`+agentKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		k.ID, k.Name, k.KeyHash, k.Prefix, k.CreatedAt, k.LastUsedAt, k.ExpiresAt, k.IsActive, perms, meta,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("agent key %q: %w", k.ID, domain.ErrConflict)
		}
		return fmt.Errorf("postgres: create agent key: %w", err)
	}
	return nil
}

func (r *AgentKeyRepo) GetByID(ctx context.Context, id string) (*domain.AgentKey, error) {
	k, err := scanAgentKey(r.db.QueryRow(ctx, `SELECT `+agentKeyColumns+` FROM agent_keys WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("postgres: get agent key: %w", err)
	}
	return k, nil
}

func (r *AgentKeyRepo) ListByPrefix(ctx context.Context, prefix string) ([]domain.AgentKey, error) {
	return r.list(ctx, `SELECT `+agentKeyColumns+` FROM agent_keys WHERE prefix = $1 AND is_active ORDER BY created_at, id`, prefix)
}

func (r *AgentKeyRepo) List(ctx context.Context) ([]domain.AgentKey, error) {
	return r.list(ctx, `SELECT `+agentKeyColumns+` FROM agent_keys ORDER BY created_at, id`)
}

func (r *AgentKeyRepo) list(ctx context.Context, query string, args ...any) ([]domain.AgentKey, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list agent keys: %w", err)
	}
	defer rows.Close()

	var out []domain.AgentKey
	for rows.Next() {
		k, err := scanAgentKey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan agent key: %w", err)
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (r *AgentKeyRepo) Update(ctx context.Context, k *domain.AgentKey) error {
	tag, err := r.db.Exec(ctx, `UPDATE agent_keys SET is_active = $1, last_used_at = $2 WHERE id = $3`,
		k.IsActive, k.LastUsedAt, k.ID)
	if err != nil {
		return fmt.Errorf("postgres: update agent key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent key %q: %w", k.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *AgentKeyRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agent_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete agent key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("agent key %q: %w", id, domain.ErrNotFound)
	}
	return nil
}
