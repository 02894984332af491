package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/usage-governor/internal/plan"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LogUsage(ctx context.Context, e *UsageEvent) error {
	query := `
		INSERT INTO usage_events (tenant_id, request_id, metric, provider, model, input_tokens, output_tokens, cost_usd, latency_ms, cached)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		e.TenantID, e.RequestID, string(e.Metric), e.Provider, e.Model,
		e.InputTokens, e.OutputTokens, e.CostUSD.String(), e.LatencyMs, e.Cached,
	).Scan(&e.ID, &e.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetUsageByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error) {
	query := `
		SELECT id, tenant_id, request_id, metric, provider, model, input_tokens, output_tokens, cost_usd::text, latency_ms, cached, created_at
		FROM usage_events
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		var e UsageEvent
		var metric, cost string
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.RequestID, &metric, &e.Provider, &e.Model,
			&e.InputTokens, &e.OutputTokens, &cost, &e.LatencyMs, &e.Cached, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		e.Metric = plan.Metric(metric)
		if e.CostUSD, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("failed to parse cost %q: %w", cost, err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage events: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) Summarize(ctx context.Context, tenantID string, from, to time.Time) (Summary, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE cached), COALESCE(SUM(cost_usd), 0)::text
		FROM usage_events
		WHERE tenant_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var sum Summary
	var total string
	err := s.db.QueryRow(ctx, query, tenantID, from, to).Scan(&sum.Requests, &sum.CachedHits, &total)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize usage: %w", err)
	}
	if sum.TotalCostUSD, err = decimal.NewFromString(total); err != nil {
		return Summary{}, fmt.Errorf("failed to parse total cost %q: %w", total, err)
	}

	return sum, nil
}
