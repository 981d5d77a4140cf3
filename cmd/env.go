package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/bookeep/ingest/internal/crypto"
	"github.com/bookeep/ingest/internal/emailsync"
	"github.com/bookeep/ingest/internal/extraction"
	"github.com/bookeep/ingest/internal/ocr"
	"github.com/bookeep/ingest/internal/pipeline"
	"github.com/bookeep/ingest/internal/queue"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
	anthropicpkg "github.com/bookeep/ingest/pkg/anthropic"
	"github.com/bookeep/ingest/pkg/gmail"
)

// env holds the store, blob storage, and queue client shared by the
// serve, worker, process, and sync commands.
type env struct {
	Store  store.Store
	Files  *storage.Files
	Queue  *queue.Client
	Cipher *crypto.Cipher
	OAuth  *gmail.OAuth
}

func (e *env) Close() {
	if e.Queue != nil {
		_ = e.Queue.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bookeep.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, blob storage, token cipher, and queue client.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	files, err := storage.NewFiles(cfg.Storage.Dir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	cipher, err := crypto.New(cfg.Crypto.KeyHex)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &env{
		Store:  st,
		Files:  files,
		Queue:  queue.NewClient(cfg.Redis, cfg.Worker),
		Cipher: cipher,
		OAuth:  gmail.NewOAuth(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret, cfg.Gmail.RedirectURL),
	}, nil
}

// buildProcessor wires the OCR and extraction engines into a document
// processor.
func buildProcessor(e *env) *pipeline.Processor {
	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)
	ocrEngine := ocr.NewEngine(cfg.OCR)
	extractor := extraction.NewEngine(llm, ocrEngine, cfg.Anthropic)
	return pipeline.NewProcessor(e.Store, e.Files, extractor)
}

func buildSyncer(e *env) *emailsync.Syncer {
	opener := emailsync.NewGmailOpener(e.OAuth)
	return emailsync.NewSyncer(e.Store, e.Files, e.Queue, opener, e.Cipher, cfg.Gmail)
}
