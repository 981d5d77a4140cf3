package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/api"
	"github.com/bookeep/ingest/internal/billing"
	"github.com/bookeep/ingest/internal/ratelimit"
	"github.com/bookeep/ingest/pkg/twilio"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		server := api.NewServer(api.Deps{
			Store:    e.Store,
			Files:    e.Files,
			Enqueuer: e.Queue,
			Billing:  billing.NewChecker(e.Store),
			Uploads:  ratelimit.ForUploads(rdb, cfg.Server.UploadPerMinute),
			Cipher:   e.Cipher,
			Mail:     api.GmailConnector{OAuth: e.OAuth},
			Media:    twilio.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken),
		}, cfg.Storage, cfg.Server)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.Router(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
