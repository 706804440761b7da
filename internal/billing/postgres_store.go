package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements EventStore with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed billing event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) IsProcessed(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_events WHERE external_id = $1)`, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check billing event: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, externalID string, result Result) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO billing_events (external_id, result, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (external_id) DO NOTHING
	`, externalID, result)
	if err != nil {
		return fmt.Errorf("failed to mark billing event: %w", err)
	}
	return nil
}

func (p *PostgresStore) Archive(ctx context.Context, e *Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO billing_event_archive (external_id, event_type, tenant_id, occurred_at, payload, archived_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (external_id) DO NOTHING
	`, e.ExternalID, e.Type, e.TenantID, e.OccurredAt, []byte(e.Raw))
	if err != nil {
		return fmt.Errorf("failed to archive billing event: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListArchived(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT external_id, event_type, tenant_id, occurred_at, payload
		FROM billing_event_archive
		ORDER BY archived_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var occurredAt sql.NullTime
		var payload []byte
		if err := rows.Scan(&e.ExternalID, &e.Type, &e.TenantID, &occurredAt, &payload); err != nil {
			return nil, err
		}
		if occurredAt.Valid {
			e.OccurredAt = occurredAt.Time
		} else {
			e.OccurredAt = time.Time{}
		}
		e.Raw = payload
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ EventStore = (*PostgresStore)(nil)
