package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/meterline/meterline/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subColumns = `id, tenant_id, plan_id, status, current_period_start, current_period_end,
		past_due_since, last_provider_ts, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.TenantID, s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		nullTime(s.PastDueSince), nullTime(s.LastProviderTS), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID string) (*Subscription, error) {
	s, err := scanSub(p.db.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) ApplyTransition(ctx context.Context, tenantID string, to Status) (*Subscription, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	s, err := scanSub(tx.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE tenant_id = $1 FOR UPDATE`, tenantID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !CanTransition(s.Status, to) {
		return nil, ErrInvalidTransition
	}

	now := time.Now()
	s.Status = to
	if to == StatusPastDue {
		s.PastDueSince = now
	} else {
		s.PastDueSince = time.Time{}
	}
	s.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE subscriptions SET status = $2, past_due_since = $3, updated_at = $4
		WHERE tenant_id = $1
	`, tenantID, s.Status, nullTime(s.PastDueSince), s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) ApplyProviderUpdate(ctx context.Context, u ProviderUpdate) (*Subscription, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	s, err := scanSub(tx.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE tenant_id = $1 FOR UPDATE`, u.TenantID))
	switch {
	case err == sql.ErrNoRows:
		s = &Subscription{
			ID:        idgen.WithPrefix("sub_"),
			TenantID:  u.TenantID,
			CreatedAt: now,
		}
	case err != nil:
		return nil, err
	default:
		if !u.ProviderTS.After(s.LastProviderTS) {
			return nil, ErrStaleUpdate
		}
	}

	s.PlanID = u.PlanID
	s.Status = u.Status
	s.CurrentPeriodStart = u.PeriodStart
	s.CurrentPeriodEnd = u.PeriodEnd
	if u.Status == StatusPastDue {
		if s.PastDueSince.IsZero() {
			s.PastDueSince = now
		}
	} else {
		s.PastDueSince = time.Time{}
	}
	s.LastProviderTS = u.ProviderTS
	s.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			past_due_since = EXCLUDED.past_due_since,
			last_provider_ts = EXCLUDED.last_provider_ts,
			updated_at = EXCLUDED.updated_at
	`, s.ID, s.TenantID, s.PlanID, s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		nullTime(s.PastDueSince), nullTime(s.LastProviderTS), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to apply provider update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) ListPastDue(ctx context.Context, before time.Time) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subColumns+` FROM subscriptions
		WHERE status = $1 AND past_due_since < $2
	`, StatusPastDue, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list past_due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		s, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSub(row rowScanner) (*Subscription, error) {
	s := &Subscription{}
	var pastDue, providerTS sql.NullTime
	err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &s.Status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&pastDue, &providerTS, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pastDue.Valid {
		s.PastDueSince = pastDue.Time
	}
	if providerTS.Valid {
		s.LastProviderTS = providerTS.Time
	}
	return s, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
