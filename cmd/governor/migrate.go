package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/migrations"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations (or roll them back with --down)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(cmd.Context()); err != nil {
			_ = db.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}

		m, err := migrations.New(db, log)
		if err != nil {
			_ = db.Close()
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				log.Warn("closing migrator", zap.Error(err))
			}
		}()

		if migrateDown {
			return m.Down()
		}
		return m.Up()
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back every migration")
}
