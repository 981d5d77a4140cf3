package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker for document processing and mailbox scans",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		srv := queue.NewServer(cfg.Redis, cfg.Worker, buildProcessor(e), buildSyncer(e))

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down worker")
			srv.Shutdown()
		}()

		zap.L().Info("starting worker",
			zap.Int("document_concurrency", cfg.Worker.DocumentConcurrency),
			zap.Int("email_concurrency", cfg.Worker.EmailConcurrency))
		return srv.Run()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
