package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/billing"
	"github.com/bookeep/ingest/internal/model"
	"github.com/bookeep/ingest/internal/storage"
	"github.com/bookeep/ingest/internal/store"
	"github.com/bookeep/ingest/pkg/twilio"
)

// handleWhatsAppWebhook ingests media from inbound WhatsApp messages.
// Twilio posts form-encoded parameters and expects a TwiML reply.
func (s *Server) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		writeTwiML(w, "Sorry, we could not read that message.")
		return
	}

	phone := strings.TrimPrefix(r.PostFormValue("From"), "whatsapp:")
	if phone == "" {
		writeTwiML(w, "Sorry, we could not identify the sender.")
		return
	}

	org, err := s.store.GetOrganizationByWhatsApp(ctx, phone)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeTwiML(w, "This number is not linked to a workspace. Connect it in settings first. מספר זה אינו מחובר לחשבון.")
			return
		}
		zap.L().Error("api: whatsapp org lookup", zap.Error(err))
		writeTwiML(w, "Something went wrong. Please try again later.")
		return
	}

	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	if numMedia == 0 {
		writeTwiML(w, "Send a photo or PDF of a receipt and we will file it. שלחו צילום או PDF של קבלה ונתייק אותה.")
		return
	}

	// MessageSid is unique per inbound message, so redelivered webhooks
	// dedupe on source_ref instead of creating a second document.
	msgRef := r.PostFormValue("MessageSid")
	if msgRef == "" {
		msgRef = strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	}

	created, skipped := 0, 0
	for i := 0; i < numMedia; i++ {
		mediaURL := r.PostFormValue(fmt.Sprintf("MediaUrl%d", i))
		contentType := r.PostFormValue(fmt.Sprintf("MediaContentType%d", i))
		if mediaURL == "" {
			continue
		}
		ok, err := s.ingestWhatsAppMedia(ctx, org, phone, msgRef, i, mediaURL, contentType)
		if err != nil {
			if errors.Is(err, billing.ErrLimitExceeded) {
				writeTwiML(w, "Your monthly document limit is reached. Upgrade your plan to keep filing receipts.")
				return
			}
			zap.L().Error("api: whatsapp media ingest",
				zap.String("org_id", org.ID),
				zap.Int("media_index", i),
				zap.Error(err))
			skipped++
			continue
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}

	switch {
	case created == 1:
		writeTwiML(w, "Got it! Your receipt is being processed. קיבלנו! הקבלה בעיבוד.")
	case created > 1:
		writeTwiML(w, fmt.Sprintf("Got it! %d receipts are being processed. קיבלנו! %d קבלות בעיבוד.", created, created))
	default:
		writeTwiML(w, "We could not process the attached files. Supported formats: images and PDF.")
	}
}

// ingestWhatsAppMedia stores one media item. Returns false without error
// for unsupported types and already-seen media.
func (s *Server) ingestWhatsAppMedia(ctx context.Context, org *model.Organization, phone, msgRef string, index int, mediaURL, contentType string) (bool, error) {
	if !storage.IsAllowedType(contentType) {
		return false, nil
	}

	sourceRef := fmt.Sprintf("whatsapp:%s:%s:%d", phone, msgRef, index)
	if _, err := s.store.FindDocumentBySourceRef(ctx, sourceRef); err == nil {
		return false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	if err := s.billing.CheckDocumentQuota(ctx, org.ID); err != nil {
		return false, err
	}

	data, downloadedType, err := s.media.DownloadMedia(ctx, mediaURL)
	if err != nil {
		return false, err
	}
	if downloadedType != "" {
		contentType = downloadedType
	}
	if !storage.IsAllowedType(contentType) {
		return false, nil
	}

	filePath, thumbPath, err := s.files.SaveWithThumbnail(org.ID, contentType, data)
	if err != nil {
		return false, err
	}

	doc, err := s.store.CreateDocument(ctx, store.NewDocument{
		OrgID:         org.ID,
		Source:        model.DocumentSourceWhatsApp,
		SourceRef:     sourceRef,
		FilePath:      filePath,
		FileType:      contentType,
		FileSizeBytes: int64(len(data)),
		ThumbnailPath: thumbPath,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSourceRef) {
			if delErr := s.files.Delete(filePath); delErr != nil {
				zap.L().Warn("api: whatsapp orphan cleanup failed", zap.Error(delErr))
			}
			return false, nil
		}
		return false, err
	}

	if err := s.enqueuer.EnqueueDocumentProcess(ctx, doc.ID); err != nil {
		zap.L().Error("api: enqueue whatsapp document",
			zap.String("document_id", doc.ID), zap.Error(err))
	}
	return true, nil
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(twilio.TwiML(message))); err != nil {
		zap.L().Error("api: write twiml", zap.Error(err))
	}
}
