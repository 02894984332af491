package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnmchuo/usage-governor/internal/plan"
	"github.com/vnmchuo/usage-governor/internal/quota"
	"github.com/vnmchuo/usage-governor/internal/subscription"
)

var stateTenant string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print a tenant's access state and this month's usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if stateTenant == "" {
			return fmt.Errorf("--tenant is required")
		}
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		pool, err := connectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		gate := subscription.NewGate(subscription.NewPostgresStore(pool), nil)
		ledger := quota.NewLedger(quota.NewPostgresStore(pool), log, nil)

		t, state, err := gate.State(ctx, stateTenant)
		if err != nil {
			return err
		}

		areas := map[subscription.CapabilityArea]bool{}
		for _, a := range []subscription.CapabilityArea{
			subscription.AreaAI, subscription.AreaSMS, subscription.AreaDashboard, subscription.AreaPublicSurface,
		} {
			areas[a] = subscription.IsAllowed(state, a)
		}

		usage := map[plan.Metric]quota.Decision{}
		for _, m := range []plan.Metric{plan.MetricAIText, plan.MetricAIImage, plan.MetricSMS} {
			usage[m] = ledger.Check(ctx, t.ID, m, t.Plan)
		}

		out := map[string]interface{}{
			"tenant_id":         t.ID,
			"plan":              plan.Normalize(t.Plan),
			"state":             state,
			"payment_failed_at": t.PaymentFailedAt,
			"month":             quota.MonthKey(time.Now()),
			"areas":             areas,
			"usage":             usage,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	stateCmd.Flags().StringVar(&stateTenant, "tenant", "", "tenant id")
}
