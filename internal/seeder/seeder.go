// Package seeder creates a demo tenant and API key for local runs.
package seeder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/internal/auth"
	"github.com/vnmchuo/usage-governor/internal/plan"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Seed upserts the demo tenant on planID and registers TestAPIKey for it.
// Re-running it resets the tenant's payment state.
func Seed(ctx context.Context, db DB, keys auth.Store, planID plan.ID, log *zap.Logger) error {
	query := `
		INSERT INTO tenants (id, plan, payment_failed_at)
		VALUES ($1, $2, NULL)
		ON CONFLICT (id) DO UPDATE SET plan = EXCLUDED.plan, payment_failed_at = NULL
	`
	if _, err := db.Exec(ctx, query, TestTenantID, string(planID)); err != nil {
		return fmt.Errorf("failed to seed tenant: %w", err)
	}

	apiKey := &auth.APIKey{
		TenantID: TestTenantID,
		KeyHash:  auth.HashKey(TestAPIKey),
		Active:   true,
	}
	if err := keys.Create(ctx, apiKey); err != nil {
		return fmt.Errorf("failed to seed api key: %w", err)
	}

	log.Info("demo tenant seeded",
		zap.String("tenant_id", TestTenantID),
		zap.String("plan", string(planID)),
		zap.String("api_key", TestAPIKey),
	)
	return nil
}
