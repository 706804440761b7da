package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pl *Plan) error {
	rules, err := json.Marshal(pl.QuotaRules)
	if err != nil {
		return fmt.Errorf("failed to marshal quota rules: %w", err)
	}
	features, err := json.Marshal(pl.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	var surcharge []byte
	if pl.Surcharge != nil {
		surcharge, err = json.Marshal(pl.Surcharge)
		if err != nil {
			return fmt.Errorf("failed to marshal surcharge: %w", err)
		}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, version, price_cents, quota_rules, features, surcharge, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, pl.ID, pl.Name, pl.Version, pl.PriceCents, rules, features, surcharge, pl.PublishedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, `
		SELECT id, name, version, price_cents, quota_rules, features, surcharge, published_at
		FROM plans WHERE id = $1
	`, id))
}

func (p *PostgresStore) Latest(ctx context.Context, name string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, `
		SELECT id, name, version, price_cents, quota_rules, features, surcharge, published_at
		FROM plans WHERE name = $1
		ORDER BY version DESC LIMIT 1
	`, name))
}

func (p *PostgresStore) List(ctx context.Context) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (name)
			id, name, version, price_cents, quota_rules, features, surcharge, published_at
		FROM plans
		ORDER BY name, version DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var out []*Plan
	for rows.Next() {
		pl, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row *sql.Row) (*Plan, error) {
	pl, err := scanPlanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	return pl, err
}

func scanPlanRow(row rowScanner) (*Plan, error) {
	pl := &Plan{}
	var rules, features, surcharge []byte
	err := row.Scan(&pl.ID, &pl.Name, &pl.Version, &pl.PriceCents, &rules, &features, &surcharge, &pl.PublishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rules, &pl.QuotaRules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quota rules: %w", err)
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &pl.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal features: %w", err)
		}
	}
	if len(surcharge) > 0 {
		pl.Surcharge = &SurchargeRule{}
		if err := json.Unmarshal(surcharge, pl.Surcharge); err != nil {
			return nil, fmt.Errorf("failed to unmarshal surcharge: %w", err)
		}
	}
	return pl, nil
}

var _ Store = (*PostgresStore)(nil)
