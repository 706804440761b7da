package flags

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed override store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Set(ctx context.Context, tenantID, flag string, enabled bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO feature_overrides (tenant_id, flag, enabled, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, flag) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
	`, tenantID, flag, enabled)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, flag string) (bool, error) {
	var enabled bool
	err := p.db.QueryRowContext(ctx, `
		SELECT enabled FROM feature_overrides WHERE tenant_id = $1 AND flag = $2
	`, tenantID, flag).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, ErrOverrideNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get override: %w", err)
	}
	return enabled, nil
}

func (p *PostgresStore) List(ctx context.Context, tenantID string) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT flag, enabled FROM feature_overrides WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var flag string
		var enabled bool
		if err := rows.Scan(&flag, &enabled); err != nil {
			return nil, err
		}
		out[flag] = enabled
	}
	return out, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, tenantID, flag string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM feature_overrides WHERE tenant_id = $1 AND flag = $2`, tenantID, flag)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
