package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/model"
)

var (
	syncMode   string
	syncInline bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <email-account-id>",
	Short: "Queue a mailbox scan, or run it inline with --inline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mode := model.SyncMode(syncMode)
		if mode != model.SyncModeFull && mode != model.SyncModeIncremental {
			return eris.Errorf("invalid mode %q, want full or incremental", syncMode)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		accountID := args[0]

		if syncInline {
			if err := buildSyncer(e).Sync(ctx, accountID, mode); err != nil {
				return err
			}
			zap.L().Info("mailbox scan complete", zap.String("email_account_id", accountID))
			return nil
		}

		if err := e.Queue.EnqueueEmailScan(ctx, accountID, mode); err != nil {
			return err
		}
		zap.L().Info("mailbox scan queued",
			zap.String("email_account_id", accountID),
			zap.String("mode", syncMode))
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncMode, "mode", "incremental", "scan mode: full or incremental")
	syncCmd.Flags().BoolVar(&syncInline, "inline", false, "run the scan in this process instead of enqueueing")
	rootCmd.AddCommand(syncCmd)
}
