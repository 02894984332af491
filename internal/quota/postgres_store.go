package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-governor/internal/plan"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps one usage_months row per tenant, metric and month.
// Rows are never deleted.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanRecord(row pgx.Row) (Record, error) {
	var count int64
	var cost string
	if err := row.Scan(&count, &cost); err != nil {
		return Record{}, err
	}
	d, err := decimal.NewFromString(cost)
	if err != nil {
		return Record{}, fmt.Errorf("invalid consumed_cost %q: %w", cost, err)
	}
	return Record{Count: count, Cost: d}, nil
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Record, error) {
	query := `
		SELECT consumed, consumed_cost::text
		FROM usage_months
		WHERE tenant_id = $1 AND metric = $2 AND month = $3
	`
	rec, err := scanRecord(s.db.QueryRow(ctx, query, key.TenantID, string(key.Metric), key.Month))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("failed to get usage: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Add(ctx context.Context, key Key, count int64, cost decimal.Decimal) (Record, error) {
	query := `
		INSERT INTO usage_months (tenant_id, metric, month, consumed, consumed_cost)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (tenant_id, metric, month) DO UPDATE
		SET consumed = usage_months.consumed + EXCLUDED.consumed,
		    consumed_cost = usage_months.consumed_cost + EXCLUDED.consumed_cost,
		    updated_at = NOW()
		RETURNING consumed, consumed_cost::text
	`
	rec, err := scanRecord(s.db.QueryRow(ctx, query,
		key.TenantID, string(key.Metric), key.Month, count, cost.String(),
	))
	if err != nil {
		return Record{}, fmt.Errorf("failed to increment usage: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) AddWithin(ctx context.Context, key Key, count int64, cost decimal.Decimal, limit plan.Limit) (Record, bool, error) {
	var rec Record
	var ok bool

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_months (tenant_id, metric, month, consumed, consumed_cost)
			VALUES ($1, $2, $3, 0, 0)
			ON CONFLICT (tenant_id, metric, month) DO NOTHING
		`, key.TenantID, string(key.Metric), key.Month)
		if err != nil {
			return err
		}

		rec, err = scanRecord(tx.QueryRow(ctx, `
			SELECT consumed, consumed_cost::text
			FROM usage_months
			WHERE tenant_id = $1 AND metric = $2 AND month = $3
			FOR UPDATE
		`, key.TenantID, string(key.Metric), key.Month))
		if err != nil {
			return err
		}

		if !Fits(rec, limit, count, cost) {
			return nil
		}

		rec, err = scanRecord(tx.QueryRow(ctx, `
			UPDATE usage_months
			SET consumed = consumed + $4,
			    consumed_cost = consumed_cost + $5::numeric,
			    updated_at = NOW()
			WHERE tenant_id = $1 AND metric = $2 AND month = $3
			RETURNING consumed, consumed_cost::text
		`, key.TenantID, string(key.Metric), key.Month, count, cost.String()))
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to consume usage: %w", err)
	}

	return rec, ok, nil
}
