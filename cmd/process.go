package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processInline bool

var processCmd = &cobra.Command{
	Use:   "process <document-id>",
	Short: "Queue extraction for one document, or run it inline with --inline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		documentID := args[0]

		if processInline {
			if err := buildProcessor(e).Process(ctx, documentID); err != nil {
				return err
			}
			zap.L().Info("document processed", zap.String("document_id", documentID))
			return nil
		}

		if err := e.Queue.EnqueueDocumentProcess(ctx, documentID); err != nil {
			return err
		}
		zap.L().Info("document queued", zap.String("document_id", documentID))
		return nil
	},
}

func init() {
	processCmd.Flags().BoolVar(&processInline, "inline", false, "run extraction in this process instead of enqueueing")
	rootCmd.AddCommand(processCmd)
}
