package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bookeep/ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// development and tests; production runs on Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN with WAL mode, a busy
// timeout, and foreign keys on. The pragmas ride in the DSN so they apply
// to every connection the pool opens, not just the first.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	slug            TEXT NOT NULL UNIQUE,
	plan            TEXT NOT NULL DEFAULT 'free',
	whatsapp_number TEXT UNIQUE,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS email_accounts (
	id                      TEXT PRIMARY KEY,
	org_id                  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	user_id                 TEXT,
	provider                TEXT NOT NULL,
	email_address           TEXT NOT NULL,
	oauth_token_encrypted   TEXT,
	refresh_token_encrypted TEXT,
	last_sync_at            DATETIME,
	sync_status             TEXT NOT NULL DEFAULT 'idle',
	historical_scan_months  INTEGER NOT NULL DEFAULT 12,
	created_at              DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id                      TEXT PRIMARY KEY,
	org_id                  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	uploaded_by_user_id     TEXT,
	source                  TEXT NOT NULL,
	source_email_account_id TEXT REFERENCES email_accounts(id) ON DELETE SET NULL,
	source_ref              TEXT UNIQUE,
	status                  TEXT NOT NULL DEFAULT 'pending',
	file_path               TEXT NOT NULL,
	file_type               TEXT NOT NULL,
	file_size_bytes         INTEGER NOT NULL DEFAULT 0,
	thumbnail_path          TEXT,
	created_at              DATETIME NOT NULL,
	updated_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS extracted_data (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
	vendor_name      TEXT,
	vendor_address   TEXT,
	document_date    DATETIME,
	document_type    TEXT,
	document_number  TEXT,
	total_amount     REAL,
	total_tax        REAL,
	currency         TEXT NOT NULL DEFAULT 'USD',
	line_items       TEXT,
	raw_ocr_text     TEXT,
	confidence_score REAL NOT NULL DEFAULT 0,
	extraction_model TEXT,
	is_user_edited   INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_org_id ON documents(org_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_email_accounts_org_id ON email_accounts(org_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullable maps "" to NULL so UNIQUE columns tolerate absent values.
func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc NewDocument) (*model.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, org_id, uploaded_by_user_id, source, source_email_account_id, source_ref, status, file_path, file_type, file_size_bytes, thumbnail_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, doc.OrgID, nullable(doc.UploadedByUserID), string(doc.Source),
		nullable(doc.SourceEmailAccountID), nullable(doc.SourceRef),
		string(model.DocumentStatusPending), doc.FilePath, doc.FileType,
		doc.FileSizeBytes, nullable(doc.ThumbnailPath), now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: documents.source_ref") {
			return nil, eris.Wrap(ErrDuplicateSourceRef, doc.SourceRef)
		}
		return nil, eris.Wrap(err, "sqlite: insert document")
	}

	return &model.Document{
		ID:                   id,
		OrgID:                doc.OrgID,
		UploadedByUserID:     doc.UploadedByUserID,
		Source:               doc.Source,
		SourceEmailAccountID: doc.SourceEmailAccountID,
		SourceRef:            doc.SourceRef,
		Status:               model.DocumentStatusPending,
		FilePath:             doc.FilePath,
		FileType:             doc.FileType,
		FileSizeBytes:        doc.FileSizeBytes,
		ThumbnailPath:        doc.ThumbnailPath,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

const sqliteDocumentCols = `id, org_id, COALESCE(uploaded_by_user_id, ''), source, COALESCE(source_email_account_id, ''), COALESCE(source_ref, ''), status, file_path, file_type, file_size_bytes, COALESCE(thumbnail_path, ''), created_at, updated_at`

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentCols+` FROM documents WHERE id = ?`, id)
	return scanSQLiteDocument(row)
}

func (s *SQLiteStore) FindDocumentBySourceRef(ctx context.Context, sourceRef string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteDocumentCols+` FROM documents WHERE source_ref = ?`, sourceRef)
	return scanSQLiteDocument(row)
}

func scanSQLiteDocument(row *sql.Row) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.OrgID, &d.UploadedByUserID, &d.Source, &d.SourceEmailAccountID,
		&d.SourceRef, &d.Status, &d.FilePath, &d.FileType, &d.FileSizeBytes, &d.ThumbnailPath,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	return &d, nil
}

func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update document status")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountDocumentsSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM documents WHERE org_id = ? AND created_at >= ?`, orgID, since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count documents")
	}
	return n, nil
}

func (s *SQLiteStore) UpsertExtractedData(ctx context.Context, documentID string, data ExtractionUpsert) error {
	lineItems, err := json.Marshal(data.LineItems)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal line items")
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extracted_data (id, document_id, vendor_name, vendor_address, document_date, document_type, document_number, total_amount, total_tax, currency, line_items, raw_ocr_text, confidence_score, extraction_model, is_user_edited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (document_id) DO UPDATE SET
			vendor_name = excluded.vendor_name,
			vendor_address = excluded.vendor_address,
			document_date = excluded.document_date,
			document_type = excluded.document_type,
			document_number = excluded.document_number,
			total_amount = excluded.total_amount,
			total_tax = excluded.total_tax,
			currency = excluded.currency,
			line_items = excluded.line_items,
			raw_ocr_text = excluded.raw_ocr_text,
			confidence_score = excluded.confidence_score,
			extraction_model = excluded.extraction_model,
			updated_at = excluded.updated_at`,
		uuid.New().String(), documentID, data.VendorName, data.VendorAddress, data.DocumentDate,
		nullable(string(data.DocumentType)), data.DocumentNumber, data.TotalAmount, data.TotalTax,
		data.Currency, string(lineItems), data.RawOCRText, data.ConfidenceScore,
		data.ExtractionModel, now, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert extracted data")
	}
	return nil
}

func (s *SQLiteStore) GetExtractedData(ctx context.Context, documentID string) (*model.ExtractedData, error) {
	var (
		e         model.ExtractedData
		lineItems sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, COALESCE(vendor_name, ''), COALESCE(vendor_address, ''), document_date, COALESCE(document_type, ''), COALESCE(document_number, ''), total_amount, total_tax, currency, line_items, COALESCE(raw_ocr_text, ''), confidence_score, COALESCE(extraction_model, ''), is_user_edited, created_at, updated_at
		 FROM extracted_data WHERE document_id = ?`, documentID,
	).Scan(
		&e.ID, &e.DocumentID, &e.VendorName, &e.VendorAddress, &e.DocumentDate, &e.DocumentType,
		&e.DocumentNumber, &e.TotalAmount, &e.TotalTax, &e.Currency, &lineItems, &e.RawOCRText,
		&e.ConfidenceScore, &e.ExtractionModel, &e.IsUserEdited, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get extracted data")
	}
	if lineItems.Valid && lineItems.String != "" && lineItems.String != "null" {
		if err := json.Unmarshal([]byte(lineItems.String), &e.LineItems); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal line items")
		}
	}
	return &e, nil
}

func (s *SQLiteStore) MarkExtractionUserEdited(ctx context.Context, documentID string, fields map[string]any) error {
	set := "is_user_edited = 1, updated_at = ?"
	args := []any{time.Now().UTC()}
	for name, val := range fields {
		col, ok := editableColumns[name]
		if !ok {
			return eris.Errorf("sqlite: field %q is not editable", name)
		}
		set += ", " + col + " = ?"
		args = append(args, val)
	}
	args = append(args, documentID)

	res, err := s.db.ExecContext(ctx, "UPDATE extracted_data SET "+set+" WHERE document_id = ?", args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark user edited")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateEmailAccount(ctx context.Context, account *model.EmailAccount) (*model.EmailAccount, error) {
	out := *account
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now().UTC()
	if out.SyncStatus == "" {
		out.SyncStatus = model.SyncStatusIdle
	}
	if out.HistoricalScanMonths == 0 {
		out.HistoricalScanMonths = 12
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_accounts (id, org_id, user_id, provider, email_address, oauth_token_encrypted, refresh_token_encrypted, sync_status, historical_scan_months, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.OrgID, nullable(out.UserID), string(out.Provider), out.EmailAddress,
		out.OAuthTokenEncrypted, out.RefreshTokenEncrypted, string(out.SyncStatus),
		out.HistoricalScanMonths, out.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert email account")
	}
	return &out, nil
}

func (s *SQLiteStore) GetEmailAccount(ctx context.Context, id string) (*model.EmailAccount, error) {
	var a model.EmailAccount
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, COALESCE(user_id, ''), provider, email_address, COALESCE(oauth_token_encrypted, ''), COALESCE(refresh_token_encrypted, ''), last_sync_at, sync_status, historical_scan_months, created_at
		 FROM email_accounts WHERE id = ?`, id,
	).Scan(
		&a.ID, &a.OrgID, &a.UserID, &a.Provider, &a.EmailAddress,
		&a.OAuthTokenEncrypted, &a.RefreshTokenEncrypted, &a.LastSyncAt,
		&a.SyncStatus, &a.HistoricalScanMonths, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get email account")
	}
	return &a, nil
}

func (s *SQLiteStore) UpdateEmailAccountSync(ctx context.Context, id string, status model.SyncStatus, lastSyncAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_accounts SET sync_status = ?, last_sync_at = COALESCE(?, last_sync_at) WHERE id = ?`,
		string(status), lastSyncAt, id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update email account sync")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) UpdateEmailAccountTokens(ctx context.Context, id string, tokens TokenUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_accounts SET oauth_token_encrypted = ?, refresh_token_encrypted = CASE WHEN ? = '' THEN refresh_token_encrypted ELSE ? END WHERE id = ?`,
		tokens.AccessTokenEncrypted, tokens.RefreshTokenEncrypted, tokens.RefreshTokenEncrypted, id,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update email account tokens")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountEmailAccounts(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM email_accounts WHERE org_id = ?`, orgID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count email accounts")
	}
	return n, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, plan, COALESCE(whatsapp_number, ''), created_at FROM organizations WHERE id = ?`, id)
	return scanSQLiteOrg(row)
}

func (s *SQLiteStore) GetOrganizationByWhatsApp(ctx context.Context, phoneNumber string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, plan, COALESCE(whatsapp_number, ''), created_at FROM organizations WHERE whatsapp_number = ?`, phoneNumber)
	return scanSQLiteOrg(row)
}

func scanSQLiteOrg(row *sql.Row) (*model.Organization, error) {
	var o model.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Plan, &o.WhatsAppNumber, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan organization")
	}
	return &o, nil
}

// InsertOrganization creates an organization row. Primarily used by dev
// seeding and tests; production orgs are provisioned by the dashboard.
func (s *SQLiteStore) InsertOrganization(ctx context.Context, org *model.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.Plan == "" {
		org.Plan = "free"
	}
	org.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, slug, plan, whatsapp_number, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Slug, org.Plan, nullable(org.WhatsAppNumber), org.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert organization")
}
