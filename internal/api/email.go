package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/bookeep/ingest/internal/billing"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/queue"
	"github.com/bookeep/ingest/internal/store"
	"github.com/bookeep/ingest/pkg/gmail"
)

// MailConnector abstracts the OAuth handshake for connecting a mailbox.
type MailConnector interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	EmailAddress(ctx context.Context, token *oauth2.Token) (string, error)
}

// GmailConnector adapts the Gmail OAuth client to MailConnector.
type GmailConnector struct {
	OAuth *gmail.OAuth
}

func (g GmailConnector) AuthCodeURL(state string) string {
	return g.OAuth.AuthCodeURL(state)
}

func (g GmailConnector) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.OAuth.Exchange(ctx, code)
}

func (g GmailConnector) EmailAddress(ctx context.Context, token *oauth2.Token) (string, error) {
	mb, err := g.OAuth.Mailbox(ctx, token)
	if err != nil {
		return "", err
	}
	return mb.EmailAddress(ctx)
}

// handleEmailConnect starts the OAuth flow. The organization ID rides in
// the state parameter so the callback can attribute the new account.
func (s *Server) handleEmailConnect(w http.ResponseWriter, r *http.Request) {
	org := orgID(r.Context())
	if err := s.billing.CheckEmailAccountQuota(r.Context(), org); err != nil {
		if errors.Is(err, billing.ErrLimitExceeded) {
			writeError(w, http.StatusForbidden, "email account limit reached for plan")
			return
		}
		writeError(w, http.StatusInternalServerError, "quota check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url": s.mail.AuthCodeURL(org),
	})
}

// handleEmailCallback completes the OAuth flow: exchanges the code, stores
// the tokens encrypted, and kicks off a full historical scan.
func (s *Server) handleEmailCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	org := r.URL.Query().Get("state")
	if code == "" || org == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}
	if _, err := s.store.GetOrganization(ctx, org); err != nil {
		writeError(w, http.StatusBadRequest, "unknown organization in state")
		return
	}
	if err := s.billing.CheckEmailAccountQuota(ctx, org); err != nil {
		if errors.Is(err, billing.ErrLimitExceeded) {
			writeError(w, http.StatusForbidden, "email account limit reached for plan")
			return
		}
		writeError(w, http.StatusInternalServerError, "quota check failed")
		return
	}

	token, err := s.mail.Exchange(ctx, code)
	if err != nil {
		zap.L().Error("api: oauth exchange", zap.Error(err))
		writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	address, err := s.mail.EmailAddress(ctx, token)
	if err != nil {
		zap.L().Error("api: resolve mailbox address", zap.Error(err))
		writeError(w, http.StatusBadGateway, "mailbox lookup failed")
		return
	}

	accessEnc, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		zap.L().Error("api: encrypt access token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "token storage failed")
		return
	}
	refreshEnc := ""
	if token.RefreshToken != "" {
		refreshEnc, err = s.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			zap.L().Error("api: encrypt refresh token", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token storage failed")
			return
		}
	}

	account, err := s.store.CreateEmailAccount(ctx, &model.EmailAccount{
		OrgID:                 org,
		Provider:              model.ProviderGmail,
		EmailAddress:          address,
		OAuthTokenEncrypted:   accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		SyncStatus:            model.SyncStatusIdle,
		HistoricalScanMonths:  12,
	})
	if err != nil {
		zap.L().Error("api: create email account", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account creation failed")
		return
	}

	if err := s.enqueuer.EnqueueEmailScan(ctx, account.ID, model.SyncModeFull); err != nil {
		zap.L().Error("api: enqueue initial scan",
			zap.String("email_account_id", account.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, account)
}

type syncRequest struct {
	Mode model.SyncMode `json:"mode"`
}

// handleEmailSync schedules a scan for an account. Requests are refused
// while a scan is already running or queued.
func (s *Server) handleEmailSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, err := s.store.GetEmailAccount(ctx, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "email account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "account lookup failed")
		return
	}
	if account.OrgID != orgID(ctx) {
		writeError(w, http.StatusNotFound, "email account not found")
		return
	}
	if account.SyncStatus == model.SyncStatusSyncing {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}

	req := syncRequest{Mode: model.SyncModeIncremental}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Mode != model.SyncModeFull && req.Mode != model.SyncModeIncremental {
		writeError(w, http.StatusBadRequest, "mode must be full or incremental")
		return
	}

	if err := s.enqueuer.EnqueueEmailScan(ctx, account.ID, req.Mode); err != nil {
		if errors.Is(err, queue.ErrScanAlreadyQueued) {
			writeError(w, http.StatusConflict, "scan already queued")
			return
		}
		zap.L().Error("api: enqueue scan", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"email_account_id": account.ID,
		"mode":             string(req.Mode),
		"status":           "queued",
	})
}
