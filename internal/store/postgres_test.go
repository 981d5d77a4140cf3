package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookeep/ingest/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func documentColumns() []string {
	return []string{
		"id", "org_id", "uploaded_by_user_id", "source", "source_email_account_id",
		"source_ref", "status", "file_path", "file_type", "file_size_bytes",
		"thumbnail_path", "created_at", "updated_at",
	}
}

func TestPostgresStore_GetDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`get_document`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows(documentColumns()).AddRow(
			"doc-1", "org-1", "", "email", "acct-1",
			"gmail:msg1:att1", "pending", "org-1/doc-1.pdf", "application/pdf", int64(2048),
			"", now, now,
		))

	doc, err := s.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, model.DocumentSourceEmail, doc.Source)
	assert.Equal(t, "gmail:msg1:att1", doc.SourceRef)
	assert.Equal(t, model.DocumentStatusPending, doc.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`get_document`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDocument_DuplicateSourceRef(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`insert_document`).
		WithArgs(
			pgxmock.AnyArg(), "org-1", "", "email", "acct-1",
			"gmail:msg1:att1", "pending", "org-1/dup.pdf", "application/pdf",
			int64(100), "", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "documents_source_ref_key"})

	_, err := s.CreateDocument(context.Background(), NewDocument{
		OrgID:                "org-1",
		Source:               model.DocumentSourceEmail,
		SourceEmailAccountID: "acct-1",
		SourceRef:            "gmail:msg1:att1",
		FilePath:             "org-1/dup.pdf",
		FileType:             "application/pdf",
		FileSizeBytes:        100,
	})
	require.ErrorIs(t, err, ErrDuplicateSourceRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateDocumentStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`update_document_status`).
		WithArgs("ready", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateDocumentStatus(context.Background(), "missing", model.DocumentStatusReady)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertExtractedData(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	total := 42.50
	mock.ExpectExec(`upsert_extracted_data`).
		WithArgs(
			pgxmock.AnyArg(), "doc-1", "ACME Ltd", "", &date,
			"receipt", "INV-7", &total, (*float64)(nil),
			"ILS", pgxmock.AnyArg(), "raw text", 0.92, "claude-sonnet-4-5", pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertExtractedData(context.Background(), "doc-1", ExtractionUpsert{
		VendorName:      "ACME Ltd",
		DocumentDate:    &date,
		DocumentType:    model.DocTypeReceipt,
		DocumentNumber:  "INV-7",
		TotalAmount:     &total,
		Currency:        "ILS",
		RawOCRText:      "raw text",
		ConfidenceScore: 0.92,
		ExtractionModel: "claude-sonnet-4-5",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkExtractionUserEdited(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extracted_data SET is_user_edited = true`).
		WithArgs("doc-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkExtractionUserEdited(context.Background(), "doc-1", map[string]any{
		"vendor_name": "Corrected Vendor",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkExtractionUserEdited_RejectsUnknownField(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	err := s.MarkExtractionUserEdited(context.Background(), "doc-1", map[string]any{
		"raw_ocr_text": "should not be editable",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not editable")
}

func TestPostgresStore_CountDocumentsSince(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	since := time.Now().AddDate(0, -1, 0)
	mock.ExpectQuery(`count_documents_since`).
		WithArgs("org-1", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(17))

	n, err := s.CountDocumentsSince(context.Background(), "org-1", since)
	require.NoError(t, err)
	assert.Equal(t, 17, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEmailAccountSync(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	syncedAt := time.Now().UTC()
	mock.ExpectExec(`update_email_account_sync`).
		WithArgs("idle", &syncedAt, "acct-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateEmailAccountSync(context.Background(), "acct-1", model.SyncStatusIdle, &syncedAt)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganizationByWhatsApp_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`get_org_by_whatsapp`).
		WithArgs("whatsapp:+15550001111").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetOrganizationByWhatsApp(context.Background(), "whatsapp:+15550001111")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("plain")))
}
