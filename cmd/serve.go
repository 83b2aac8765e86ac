package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/place-resolver/internal/gpidqueue"
	"github.com/sells-group/place-resolver/internal/review"
	"github.com/sells-group/place-resolver/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API and deliver queued decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		st, err := initStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		outbox, err := initOutbox(ctx)
		if err != nil {
			return err
		}
		defer outbox.Close() //nolint:errcheck

		wc := workerConfig()
		reviews := review.NewService(st)
		worker := review.NewWorker(outbox, reviews, wc)

		srv := server.New(server.Deps{
			Gpid:           gpidqueue.NewService(st, gpidqueue.WithMinGPIDLength(cfg.GpidQueue.MinGPIDLength)),
			Review:         reviews,
			Outbox:         outbox,
			Worker:         worker,
			DB:             st,
			MaxAttempts:    wc.MaxAttempts,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return worker.Run(gctx) })
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.Port) })
		if err := g.Wait(); err != nil {
			return err
		}
		zap.L().Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
