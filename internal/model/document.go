package model

import (
	"strings"
	"time"
)

// DocumentStatus represents the lifecycle state of an ingested document.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusReviewed   DocumentStatus = "reviewed"
	DocumentStatusExported   DocumentStatus = "exported"
	DocumentStatusTrash      DocumentStatus = "trash"
)

// DocumentSource identifies the ingestion channel a document arrived through.
type DocumentSource string

const (
	DocumentSourceEmail           DocumentSource = "email"
	DocumentSourceWhatsApp        DocumentSource = "whatsapp"
	DocumentSourceUpload          DocumentSource = "upload"
	DocumentSourceChromeExtension DocumentSource = "chrome_extension"
	DocumentSourceEcommerce       DocumentSource = "ecommerce"
	DocumentSourceForwarding      DocumentSource = "forwarding"
)

// Document represents one physical file moving through the pipeline.
// Exactly one row exists per stored file; SourceRef, when set, is unique
// and enforces at-most-once ingestion per originating event.
type Document struct {
	ID                   string         `json:"id"`
	OrgID                string         `json:"org_id"`
	UploadedByUserID     string         `json:"uploaded_by_user_id,omitempty"`
	Source               DocumentSource `json:"source"`
	SourceEmailAccountID string         `json:"source_email_account_id,omitempty"`
	SourceRef            string         `json:"source_ref,omitempty"`
	Status               DocumentStatus `json:"status"`
	FilePath             string         `json:"file_path"`
	FileType             string         `json:"file_type"`
	FileSizeBytes        int64          `json:"file_size_bytes"`
	ThumbnailPath        string         `json:"thumbnail_path,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IsImageType reports whether the stored MIME type is an image format.
// Images go through vision-capable extraction; everything else takes the
// PDF text path or is rejected at upload time.
func IsImageType(fileType string) bool {
	return strings.HasPrefix(fileType, "image/")
}

// IsPDFType reports whether the stored MIME type is a PDF.
func IsPDFType(fileType string) bool {
	return fileType == "application/pdf"
}
