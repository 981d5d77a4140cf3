// Package api serves the HTTP surface: uploads, document reads, human
// corrections, mailbox connection, and the WhatsApp inbound webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/billing"
	"github.com/bookeep/ingest/internal/config"
	"github.com/bookeep/ingest/internal/crypto"
	"github.com/bookeep/ingest/internal/queue"
	"github.com/bookeep/ingest/internal/ratelimit"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
)

// MediaDownloader fetches inbound webhook media. Satisfied by the Twilio
// client; tests substitute a stub.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// Server bundles the HTTP handlers and their dependencies.
type Server struct {
	store    store.Store
	files    *storage.Files
	enqueuer queue.Enqueuer
	billing  *billing.Checker
	uploads  ratelimit.Limiter
	cipher   *crypto.Cipher
	mail     MailConnector
	media    MediaDownloader
	maxBytes int64
	maxFiles int
}

type Deps struct {
	Store    store.Store
	Files    *storage.Files
	Enqueuer queue.Enqueuer
	Billing  *billing.Checker
	Uploads  ratelimit.Limiter
	Cipher   *crypto.Cipher
	Mail     MailConnector
	Media    MediaDownloader
}

func NewServer(deps Deps, storageCfg config.StorageConfig, serverCfg config.ServerConfig) *Server {
	maxBytes := storageCfg.MaxFileSizeBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	maxFiles := serverCfg.MaxUploadFiles
	if maxFiles <= 0 {
		maxFiles = 20
	}
	return &Server{
		store:    deps.Store,
		files:    deps.Files,
		enqueuer: deps.Enqueuer,
		billing:  deps.Billing,
		uploads:  deps.Uploads,
		cipher:   deps.Cipher,
		mail:     deps.Mail,
		media:    deps.Media,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Org-ID", "X-User-ID"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Inbound webhooks and the OAuth callback authenticate by other means.
	r.Post("/api/whatsapp/webhook", s.handleWhatsAppWebhook)
	r.Get("/api/whatsapp/webhook", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/api/email/callback", s.handleEmailCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.requireOrg)
		r.Post("/api/documents/upload", s.handleUpload)
		r.Get("/api/documents/{id}", s.handleGetDocument)
		r.Post("/api/documents/{id}/extract", s.handleReextract)
		r.Patch("/api/documents/{id}/extraction", s.handlePatchExtraction)
		r.Get("/api/email/connect", s.handleEmailConnect)
		r.Post("/api/email/accounts/{id}/sync", s.handleEmailSync)
	})

	return r
}

type ctxKey int

const (
	ctxKeyOrgID ctxKey = iota
	ctxKeyUserID
)

// requireOrg resolves the calling organization from the X-Org-ID header.
// Identity verification is done upstream by the dashboard's auth proxy.
func (s *Server) requireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get("X-Org-ID")
		if orgID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Org-ID header")
			return
		}
		if _, err := s.store.GetOrganization(r.Context(), orgID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unknown organization")
				return
			}
			writeError(w, http.StatusInternalServerError, "organization lookup failed")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyOrgID, orgID)
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			ctx = context.WithValue(ctx, ctxKeyUserID, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func orgID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyOrgID).(string)
	return v
}

func userID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	return v
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
