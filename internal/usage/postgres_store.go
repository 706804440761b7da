package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
//
// Sequence assignment uses a per-tenant counter row in tenant_sequences,
// bumped inside the same serializable transaction as the event insert, so a
// committed append and its sequence number are atomic. The unique index on
// (tenant_id, idempotency_key) catches duplicate appends that race past the
// initial lookup.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `seq, tenant_id, metric, quantity, idempotency_key, occurred_at, recorded_at`

func (p *PostgresStore) Append(ctx context.Context, e *Event) (AppendResult, error) {
	// Fast path: the key was already appended.
	if prev, err := p.GetByIdemKey(ctx, e.TenantID, e.IdempotencyKey); err == nil {
		return AppendResult{Seq: prev.Seq, Accepted: false}, nil
	} else if err != ErrEventNotFound {
		return AppendResult{}, err
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return AppendResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_sequences (tenant_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last_seq = tenant_sequences.last_seq + 1
		RETURNING last_seq
	`, e.TenantID).Scan(&seq)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to assign sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, seq, e.TenantID, e.Metric, e.Quantity, e.IdempotencyKey, e.OccurredAt, e.RecordedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			// Lost the race to a concurrent append of the same key. The
			// counter bump rolls back with this transaction.
			prev, gerr := p.GetByIdemKey(ctx, e.TenantID, e.IdempotencyKey)
			if gerr != nil {
				return AppendResult{}, gerr
			}
			return AppendResult{Seq: prev.Seq, Accepted: false}, nil
		}
		return AppendResult{}, fmt.Errorf("failed to append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AppendResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.Seq = seq
	return AppendResult{Seq: seq, Accepted: true}, nil
}

func (p *PostgresStore) GetByIdemKey(ctx context.Context, tenantID, key string) (*Event, error) {
	e, err := scanEvent(p.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM usage_events
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return e, err
}

func (p *PostgresStore) ListFrom(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM usage_events
		WHERE tenant_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, tenantID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SumRange(ctx context.Context, tenantID, metric string, start, end time.Time) (int64, error) {
	var total int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM usage_events
		WHERE tenant_id = $1 AND metric = $2
		  AND occurred_at >= $3 AND occurred_at < $4
	`, tenantID, metric, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum range: %w", err)
	}
	return total, nil
}

func (p *PostgresStore) LastSeq(ctx context.Context, tenantID string) (int64, error) {
	var seq int64
	err := p.db.QueryRowContext(ctx,
		`SELECT last_seq FROM tenant_sequences WHERE tenant_id = $1`, tenantID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	e := &Event{}
	err := row.Scan(&e.Seq, &e.TenantID, &e.Metric, &e.Quantity,
		&e.IdempotencyKey, &e.OccurredAt, &e.RecordedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

var _ Store = (*PostgresStore)(nil)
