package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateSyncSources bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database and outbox migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		zap.L().Info("database migrations applied")

		if cfg.Store.OutboxPath != "" {
			o, err := initOutbox(ctx)
			if err != nil {
				return err
			}
			_ = o.Close()
			zap.L().Info("outbox migrations applied", zap.String("path", cfg.Store.OutboxPath))
		}

		if !migrateSyncSources {
			return nil
		}
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		tiers := make(map[string]float64)
		for _, id := range reg.IDs() {
			tiers[id] = reg.Trust(id)
		}
		n, err := st.SyncSources(ctx, tiers)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d sources\n", n)
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSyncSources, "sync-sources", false, "upsert registry trust tiers into the sources table")
	rootCmd.AddCommand(migrateCmd)
}
