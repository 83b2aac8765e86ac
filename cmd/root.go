package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/config"
)

var cfg *config.Config

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "place-resolver",
	Short: "Canonical place confidence, GPID resolution and review queues",
	Long: `place-resolver keeps canonical restaurant and venue records honest.

  confidence  rescore each field from the raw records linked to a place
  gpid        match places to Google Place IDs, and work the GPID review queue
  review      decide suspected duplicate pairs
  extract     turn an editorial article into a raw record
  serve       expose both queues to the admin UI

Settings come from config.yaml, .env and PLACES_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyLogFlags(cmd, &c.Log)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("command starting", zap.String("command", cmd.CommandPath()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyLogFlags lets --log-level and --log-format win over the config file.
func applyLogFlags(cmd *cobra.Command, lc *config.LogConfig) {
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		lc.Level = logLevel
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil && f.Changed {
		lc.Format = logFormat
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "json", "log format (json or console)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
