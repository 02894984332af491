package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads tenants from the billing-owned tenants table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	query := `
		SELECT id, plan, payment_failed_at
		FROM tenants
		WHERE id = $1
	`

	var t Tenant
	var failedAt *time.Time
	err := s.db.QueryRow(ctx, query, tenantID).Scan(&t.ID, &t.Plan, &failedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	t.PaymentFailedAt = failedAt

	return &t, nil
}
