package main

import (
	"github.com/spf13/cobra"

	"github.com/vnmchuo/usage-governor/internal/auth"
	"github.com/vnmchuo/usage-governor/internal/plan"
	"github.com/vnmchuo/usage-governor/internal/seeder"
)

var seedPlan string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the demo tenant and API key",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		return seeder.Seed(ctx, pool, auth.NewPostgresStore(pool), plan.Normalize(seedPlan), log)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPlan, "plan", string(plan.Standard), "plan for the demo tenant")
}
