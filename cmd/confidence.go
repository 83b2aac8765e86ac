package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/confidence"
	"github.com/sells-group/place-resolver/internal/fusion"
)

var confidenceCmd = &cobra.Command{
	Use:   "confidence",
	Short: "Field confidence scoring for canonical places",
}

var (
	backfillDryRun bool
	backfillForce  bool
	backfillLimit  int
	backfillRegion string
	backfillHood   string
	backfillIDs    []string
)

var confidenceBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Recompute per-field confidence from linked raw records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		unlock, err := acquireBatchLock(cfg.Batch.LockPath)
		if err != nil {
			return err
		}
		defer unlock()

		st, err := initStore(ctx, "confidence")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := initRegistry(ctx, st)
		if err != nil {
			return err
		}

		p := fusion.NewPipeline(st, fusion.NewExtractor(reg), confidence.FromConfig(cfg.Confidence),
			cfg.Confidence.ManualSourceID, cfg.Fusion.Concurrency)
		stats, err := p.Run(ctx, fusion.Options{
			Region:       backfillRegion,
			Neighborhood: backfillHood,
			IDs:          backfillIDs,
			Limit:        backfillLimit,
			Force:        backfillForce,
			DryRun:       backfillDryRun,
		})
		if err != nil {
			return err
		}

		zap.L().Info("confidence backfill complete",
			zap.Int("scanned", stats.Scanned),
			zap.Int("updated", stats.Updated),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
			zap.Duration("duration", stats.Duration),
		)
		fmt.Fprint(cmd.OutOrStdout(), renderTable(
			[]string{"Scanned", "Updated", "Skipped", "Failed", "Duration"},
			[][]string{{
				fmt.Sprint(stats.Scanned), fmt.Sprint(stats.Updated), fmt.Sprint(stats.Skipped),
				fmt.Sprint(stats.Failed), stats.Duration.Round(time.Millisecond).String(),
			}},
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
		)+"\n")
		return nil
	},
}

func init() {
	f := confidenceBackfillCmd.Flags()
	f.BoolVar(&backfillDryRun, "dry-run", false, "compute and log without writing")
	f.BoolVar(&backfillForce, "force", false, "recompute places whose confidence is fresh")
	f.IntVar(&backfillLimit, "limit", 0, "max places to process (0 = all)")
	f.StringVar(&backfillRegion, "region", "", "only places in this region")
	f.StringVar(&backfillHood, "neighborhood", "", "only places in this neighborhood")
	f.StringSliceVar(&backfillIDs, "id", nil, "only these place ids (repeatable)")

	confidenceCmd.AddCommand(confidenceBackfillCmd)
	rootCmd.AddCommand(confidenceCmd)
}
