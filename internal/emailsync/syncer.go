// Package emailsync scans connected mailboxes for receipt-like messages
// and feeds their attachments into document processing.
package emailsync

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/bookeep/ingest/internal/config"
	"github.com/bookeep/ingest/internal/crypto"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/queue"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
	"github.com/bookeep/ingest/pkg/gmail"
)

// MailSource is one authenticated mailbox connection.
type MailSource interface {
	Search(ctx context.Context, query, pageToken string, pageSize int64) ([]gmail.Message, string, error)
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	RefreshedToken() (*oauth2.Token, bool)
}

// MailboxOpener creates MailSources from decrypted account tokens.
type MailboxOpener interface {
	Open(ctx context.Context, accessToken, refreshToken string) (MailSource, error)
}

// Syncer runs email-scan jobs.
type Syncer struct {
	store    store.Store
	files    *storage.Files
	enqueuer queue.Enqueuer
	opener   MailboxOpener
	cipher   *crypto.Cipher
	pageSize int64
	limiter  *rate.Limiter
}

func NewSyncer(st store.Store, files *storage.Files, enq queue.Enqueuer, opener MailboxOpener, cipher *crypto.Cipher, cfg config.GmailConfig) *Syncer {
	pageSize := int64(cfg.PageSize)
	if pageSize <= 0 {
		pageSize = 50
	}
	pagesPerMinute := cfg.PagesPerMinute
	if pagesPerMinute <= 0 {
		pagesPerMinute = 10
	}
	return &Syncer{
		store:    st,
		files:    files,
		enqueuer: enq,
		opener:   opener,
		cipher:   cipher,
		pageSize: pageSize,
		limiter:  rate.NewLimiter(rate.Limit(float64(pagesPerMinute)/60.0), 1),
	}
}

// Scan is the email-scan task handler.
func (s *Syncer) Scan(ctx context.Context, payload queue.EmailScanPayload) error {
	return s.Sync(ctx, payload.EmailAccountID, payload.Mode)
}

// Sync walks the mailbox's receipt-like messages since the window lower
// bound, creating pending documents for unseen attachments. Documents
// created before a mid-run failure are kept; only the account's sync
// bookkeeping records the failure.
func (s *Syncer) Sync(ctx context.Context, accountID string, mode model.SyncMode) error {
	log := zap.L().With(
		zap.String("email_account_id", accountID),
		zap.String("mode", string(mode)))

	account, err := s.store.GetEmailAccount(ctx, accountID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			log.Warn("emailsync: account vanished, dropping task")
			return eris.Wrap(asynq.SkipRetry, "email account not found")
		}
		return eris.Wrap(err, "emailsync: load account")
	}

	// Window is computed from the pre-run watermark.
	after := s.windowStart(account, mode)

	now := time.Now().UTC()
	if err := s.store.UpdateEmailAccountSync(ctx, account.ID, model.SyncStatusSyncing, &now); err != nil {
		return eris.Wrap(err, "emailsync: mark syncing")
	}

	source, err := s.openMailbox(ctx, account)
	if err != nil {
		s.finish(ctx, log, account.ID, model.SyncStatusError, nil)
		return err
	}

	stats, scanErr := s.scanPages(ctx, log, account, source, after)

	s.persistRefreshedToken(ctx, log, account.ID, source)

	if scanErr != nil {
		s.finish(ctx, log, account.ID, model.SyncStatusError, nil)
		log.Error("emailsync: scan failed",
			zap.Int("messages_scanned", stats.messages),
			zap.Int("receipts_found", stats.receipts),
			zap.Error(scanErr))
		return scanErr
	}

	done := time.Now().UTC()
	s.finish(ctx, log, account.ID, model.SyncStatusIdle, &done)
	log.Info("emailsync: scan complete",
		zap.Int("messages_scanned", stats.messages),
		zap.Int("receipts_found", stats.receipts),
		zap.Int("documents_created", stats.created),
		zap.Int("duplicates_skipped", stats.duplicates))
	return nil
}

type scanStats struct {
	messages   int
	receipts   int
	created    int
	duplicates int
}

func (s *Syncer) scanPages(ctx context.Context, log *zap.Logger, account *model.EmailAccount, source MailSource, after time.Time) (scanStats, error) {
	var stats scanStats
	query := gmail.ReceiptQuery(after)
	pageToken := ""

	for {
		messages, next, err := source.Search(ctx, query, pageToken, s.pageSize)
		if err != nil {
			return stats, eris.Wrap(err, "emailsync: search mailbox")
		}

		for _, msg := range messages {
			stats.messages++
			if !IsLikelyReceipt(msg.Subject, msg.From, msg.HasAttachments()) {
				continue
			}
			stats.receipts++
			for _, att := range msg.Attachments {
				created, err := s.ingestAttachment(ctx, account, source, msg, att)
				if err != nil {
					return stats, err
				}
				if created {
					stats.created++
				} else {
					stats.duplicates++
				}
			}
		}

		log.Debug("emailsync: page done",
			zap.Int("messages_scanned", stats.messages),
			zap.Int("receipts_found", stats.receipts))

		if next == "" {
			return stats, nil
		}
		pageToken = next

		if err := s.limiter.Wait(ctx); err != nil {
			return stats, eris.Wrap(err, "emailsync: rate limit wait")
		}
	}
}

// ingestAttachment stores one attachment and submits it for processing.
// Returns false when the attachment was already ingested.
func (s *Syncer) ingestAttachment(ctx context.Context, account *model.EmailAccount, source MailSource, msg gmail.Message, att gmail.Attachment) (bool, error) {
	sourceRef := fmt.Sprintf("%s:%s:%s", account.Provider, msg.ID, att.ID)

	if _, err := s.store.FindDocumentBySourceRef(ctx, sourceRef); err == nil {
		return false, nil
	} else if !eris.Is(err, store.ErrNotFound) {
		return false, eris.Wrap(err, "emailsync: dedup lookup")
	}

	data, err := source.DownloadAttachment(ctx, msg.ID, att.ID)
	if err != nil {
		return false, eris.Wrapf(err, "emailsync: download %s", att.Filename)
	}

	filePath, thumbPath, err := s.files.SaveWithThumbnail(account.OrgID, att.MimeType, data)
	if err != nil {
		return false, eris.Wrapf(err, "emailsync: store %s", att.Filename)
	}

	doc, err := s.store.CreateDocument(ctx, store.NewDocument{
		OrgID:                account.OrgID,
		Source:               model.DocumentSourceEmail,
		SourceEmailAccountID: account.ID,
		SourceRef:            sourceRef,
		FilePath:             filePath,
		FileType:             att.MimeType,
		FileSizeBytes:        int64(len(data)),
		ThumbnailPath:        thumbPath,
	})
	if err != nil {
		if eris.Is(err, store.ErrDuplicateSourceRef) {
			// Lost a race with a concurrent scan; drop the copy.
			if delErr := s.files.Delete(filePath); delErr != nil {
				zap.L().Warn("emailsync: orphan cleanup failed", zap.Error(delErr))
			}
			return false, nil
		}
		return false, eris.Wrap(err, "emailsync: create document")
	}

	if err := s.enqueuer.EnqueueDocumentProcess(ctx, doc.ID); err != nil {
		return false, err
	}
	return true, nil
}

// windowStart computes the scan lower bound. Full scans cover the account's
// configured history; incremental scans resume at the last success, or one
// month back for a never-synced account.
func (s *Syncer) windowStart(account *model.EmailAccount, mode model.SyncMode) time.Time {
	now := time.Now().UTC()
	if mode == model.SyncModeFull {
		months := account.HistoricalScanMonths
		if months <= 0 {
			months = 12
		}
		return now.AddDate(0, -months, 0)
	}
	if account.LastSyncAt != nil {
		return *account.LastSyncAt
	}
	return now.AddDate(0, -1, 0)
}

func (s *Syncer) openMailbox(ctx context.Context, account *model.EmailAccount) (MailSource, error) {
	accessToken, err := s.cipher.Decrypt(account.OAuthTokenEncrypted)
	if err != nil {
		return nil, eris.Wrap(err, "emailsync: decrypt access token")
	}
	refreshToken := ""
	if account.RefreshTokenEncrypted != "" {
		refreshToken, err = s.cipher.Decrypt(account.RefreshTokenEncrypted)
		if err != nil {
			return nil, eris.Wrap(err, "emailsync: decrypt refresh token")
		}
	}
	return s.opener.Open(ctx, accessToken, refreshToken)
}

// persistRefreshedToken re-encrypts and stores a token the provider rotated
// during the scan.
func (s *Syncer) persistRefreshedToken(ctx context.Context, log *zap.Logger, accountID string, source MailSource) {
	token, refreshed := source.RefreshedToken()
	if !refreshed {
		return
	}
	update := store.TokenUpdate{}
	enc, err := s.cipher.Encrypt(token.AccessToken)
	if err != nil {
		log.Error("emailsync: encrypt rotated access token", zap.Error(err))
		return
	}
	update.AccessTokenEncrypted = enc
	if token.RefreshToken != "" {
		enc, err := s.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			log.Error("emailsync: encrypt rotated refresh token", zap.Error(err))
			return
		}
		update.RefreshTokenEncrypted = enc
	}
	if err := s.store.UpdateEmailAccountTokens(ctx, accountID, update); err != nil {
		log.Error("emailsync: persist rotated tokens", zap.Error(err))
		return
	}
	log.Info("emailsync: rotated tokens persisted")
}

func (s *Syncer) finish(ctx context.Context, log *zap.Logger, accountID string, status model.SyncStatus, lastSyncAt *time.Time) {
	if err := s.store.UpdateEmailAccountSync(ctx, accountID, status, lastSyncAt); err != nil {
		log.Error("emailsync: update sync status",
			zap.String("status", string(status)),
			zap.Error(err))
	}
}
