// Package store provides persistence for documents, extraction results,
// email accounts, and organizations. Two drivers are supported: Postgres
// (production) and SQLite (development and tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bookeep/ingest/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateSourceRef is returned when a document insert collides with
// the unique source_ref constraint (at-most-once ingestion per event).
var ErrDuplicateSourceRef = errors.New("store: duplicate source ref")

// NewDocument carries the fields an ingestion entrypoint supplies when
// creating a pending document.
type NewDocument struct {
	OrgID                string
	UploadedByUserID     string
	Source               model.DocumentSource
	SourceEmailAccountID string
	SourceRef            string
	FilePath             string
	FileType             string
	FileSizeBytes        int64
	ThumbnailPath        string
}

// ExtractionUpsert carries the machine fields written by the pipeline on
// each successful extraction. It deliberately omits IsUserEdited: the
// automated path never touches that flag.
type ExtractionUpsert struct {
	VendorName      string
	VendorAddress   string
	DocumentDate    *time.Time
	DocumentType    model.DocumentType
	DocumentNumber  string
	TotalAmount     *float64
	TotalTax        *float64
	Currency        string
	LineItems       []model.LineItem
	RawOCRText      string
	ConfidenceScore float64
	ExtractionModel string
}

// TokenUpdate carries re-encrypted OAuth credentials to persist after a
// mail API call reports refreshed tokens.
type TokenUpdate struct {
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc NewDocument) (*model.Document, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error
	FindDocumentBySourceRef(ctx context.Context, sourceRef string) (*model.Document, error)
	CountDocumentsSince(ctx context.Context, orgID string, since time.Time) (int, error)

	// Extraction results (1:1 with documents)
	UpsertExtractedData(ctx context.Context, documentID string, data ExtractionUpsert) error
	GetExtractedData(ctx context.Context, documentID string) (*model.ExtractedData, error)
	MarkExtractionUserEdited(ctx context.Context, documentID string, fields map[string]any) error

	// Email accounts
	CreateEmailAccount(ctx context.Context, account *model.EmailAccount) (*model.EmailAccount, error)
	GetEmailAccount(ctx context.Context, id string) (*model.EmailAccount, error)
	UpdateEmailAccountSync(ctx context.Context, id string, status model.SyncStatus, lastSyncAt *time.Time) error
	UpdateEmailAccountTokens(ctx context.Context, id string, tokens TokenUpdate) error
	CountEmailAccounts(ctx context.Context, orgID string) (int, error)

	// Organizations
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetOrganizationByWhatsApp(ctx context.Context, phoneNumber string) (*model.Organization, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
