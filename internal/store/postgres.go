package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bookeep/ingest/internal/db"
	"github.com/bookeep/ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"insert_document": `INSERT INTO documents
		(id, org_id, uploaded_by_user_id, source, source_email_account_id, source_ref, status, file_path, file_type, file_size_bytes, thumbnail_path, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13)`,
	"get_document": `SELECT id, org_id, COALESCE(uploaded_by_user_id, ''), source, COALESCE(source_email_account_id, ''), COALESCE(source_ref, ''), status, file_path, file_type, file_size_bytes, COALESCE(thumbnail_path, ''), created_at, updated_at
		FROM documents WHERE id = $1`,
	"update_document_status": `UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`,
	"find_by_source_ref": `SELECT id, org_id, COALESCE(uploaded_by_user_id, ''), source, COALESCE(source_email_account_id, ''), COALESCE(source_ref, ''), status, file_path, file_type, file_size_bytes, COALESCE(thumbnail_path, ''), created_at, updated_at
		FROM documents WHERE source_ref = $1`,
	"count_documents_since": `SELECT count(*) FROM documents WHERE org_id = $1 AND created_at >= $2`,
	"upsert_extracted_data": `INSERT INTO extracted_data
		(id, document_id, vendor_name, vendor_address, document_date, document_type, document_number, total_amount, total_tax, currency, line_items, raw_ocr_text, confidence_score, extraction_model, is_user_edited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14, false, $15, $15)
		ON CONFLICT (document_id) DO UPDATE SET
			vendor_name = EXCLUDED.vendor_name,
			vendor_address = EXCLUDED.vendor_address,
			document_date = EXCLUDED.document_date,
			document_type = EXCLUDED.document_type,
			document_number = EXCLUDED.document_number,
			total_amount = EXCLUDED.total_amount,
			total_tax = EXCLUDED.total_tax,
			currency = EXCLUDED.currency,
			line_items = EXCLUDED.line_items,
			raw_ocr_text = EXCLUDED.raw_ocr_text,
			confidence_score = EXCLUDED.confidence_score,
			extraction_model = EXCLUDED.extraction_model,
			updated_at = EXCLUDED.updated_at`,
	"get_extracted_data": `SELECT id, document_id, COALESCE(vendor_name, ''), COALESCE(vendor_address, ''), document_date, COALESCE(document_type, ''), COALESCE(document_number, ''), total_amount, total_tax, currency, line_items, COALESCE(raw_ocr_text, ''), confidence_score, COALESCE(extraction_model, ''), is_user_edited, created_at, updated_at
		FROM extracted_data WHERE document_id = $1`,
	"get_email_account": `SELECT id, org_id, COALESCE(user_id, ''), provider, email_address, COALESCE(oauth_token_encrypted, ''), COALESCE(refresh_token_encrypted, ''), last_sync_at, sync_status, historical_scan_months, created_at
		FROM email_accounts WHERE id = $1`,
	"update_email_account_sync":   `UPDATE email_accounts SET sync_status = $1, last_sync_at = COALESCE($2, last_sync_at) WHERE id = $3`,
	"update_email_account_tokens": `UPDATE email_accounts SET oauth_token_encrypted = $1, refresh_token_encrypted = CASE WHEN $2 = '' THEN refresh_token_encrypted ELSE $2 END WHERE id = $3`,
	"count_email_accounts":        `SELECT count(*) FROM email_accounts WHERE org_id = $1`,
	"get_org":                     `SELECT id, name, slug, plan, COALESCE(whatsapp_number, ''), created_at FROM organizations WHERE id = $1`,
	"get_org_by_whatsapp":         `SELECT id, name, slug, plan, COALESCE(whatsapp_number, ''), created_at FROM organizations WHERE whatsapp_number = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare hot-path statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name            TEXT NOT NULL,
	slug            TEXT NOT NULL UNIQUE,
	plan            TEXT NOT NULL DEFAULT 'free',
	whatsapp_number TEXT UNIQUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS email_accounts (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	org_id                  TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
	user_id                 TEXT,
	provider                TEXT NOT NULL,
	email_address           TEXT NOT NULL,
	oauth_token_encrypted   TEXT,
	refresh_token_encrypted TEXT,
	last_sync_at            TIMESTAMPTZ,
	sync_status             TEXT NOT NULL DEFAULT 'idle',
	historical_scan_months  INTEGER NOT NULL DEFAULT 12,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
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
	file_size_bytes         BIGINT NOT NULL DEFAULT 0,
	thumbnail_path          TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extracted_data (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
	vendor_name      TEXT,
	vendor_address   TEXT,
	document_date    TIMESTAMPTZ,
	document_type    TEXT,
	document_number  TEXT,
	total_amount     DOUBLE PRECISION,
	total_tax        DOUBLE PRECISION,
	currency         TEXT NOT NULL DEFAULT 'USD',
	line_items       JSONB,
	raw_ocr_text     TEXT,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	extraction_model TEXT,
	is_user_edited   BOOLEAN NOT NULL DEFAULT false,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_org_id ON documents(org_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_org_created ON documents(org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_email_accounts_org_id ON email_accounts(org_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc NewDocument) (*model.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, "insert_document",
		id, doc.OrgID, doc.UploadedByUserID, string(doc.Source), doc.SourceEmailAccountID,
		doc.SourceRef, string(model.DocumentStatusPending), doc.FilePath, doc.FileType,
		doc.FileSizeBytes, doc.ThumbnailPath, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, eris.Wrap(ErrDuplicateSourceRef, doc.SourceRef)
		}
		return nil, eris.Wrap(err, "postgres: insert document")
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

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx, "get_document", id))
}

func (s *PostgresStore) FindDocumentBySourceRef(ctx context.Context, sourceRef string) (*model.Document, error) {
	return s.scanDocument(s.pool.QueryRow(ctx, "find_by_source_ref", sourceRef))
}

func (s *PostgresStore) scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.OrgID, &d.UploadedByUserID, &d.Source, &d.SourceEmailAccountID,
		&d.SourceRef, &d.Status, &d.FilePath, &d.FileType, &d.FileSizeBytes, &d.ThumbnailPath,
		&d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}
	return &d, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	tag, err := s.pool.Exec(ctx, "update_document_status", string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrap(err, "postgres: update document status")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountDocumentsSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "count_documents_since", orgID, since).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count documents")
	}
	return n, nil
}

func (s *PostgresStore) UpsertExtractedData(ctx context.Context, documentID string, data ExtractionUpsert) error {
	lineItems, err := json.Marshal(data.LineItems)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal line items")
	}

	_, err = s.pool.Exec(ctx, "upsert_extracted_data",
		uuid.New().String(), documentID, data.VendorName, data.VendorAddress, data.DocumentDate,
		string(data.DocumentType), data.DocumentNumber, data.TotalAmount, data.TotalTax,
		data.Currency, lineItems, data.RawOCRText, data.ConfidenceScore, data.ExtractionModel,
		time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert extracted data")
	}
	return nil
}

func (s *PostgresStore) GetExtractedData(ctx context.Context, documentID string) (*model.ExtractedData, error) {
	var (
		e         model.ExtractedData
		lineItems []byte
	)
	err := s.pool.QueryRow(ctx, "get_extracted_data", documentID).Scan(
		&e.ID, &e.DocumentID, &e.VendorName, &e.VendorAddress, &e.DocumentDate, &e.DocumentType,
		&e.DocumentNumber, &e.TotalAmount, &e.TotalTax, &e.Currency, &lineItems, &e.RawOCRText,
		&e.ConfidenceScore, &e.ExtractionModel, &e.IsUserEdited, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get extracted data")
	}
	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &e.LineItems); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal line items")
		}
	}
	return &e, nil
}

// editableColumns whitelists the extraction fields a human may correct.
var editableColumns = map[string]string{
	"vendor_name":     "vendor_name",
	"vendor_address":  "vendor_address",
	"document_date":   "document_date",
	"document_type":   "document_type",
	"document_number": "document_number",
	"total_amount":    "total_amount",
	"total_tax":       "total_tax",
	"currency":        "currency",
}

func (s *PostgresStore) MarkExtractionUserEdited(ctx context.Context, documentID string, fields map[string]any) error {
	set := "is_user_edited = true, updated_at = now()"
	args := []any{documentID}
	for name, val := range fields {
		col, ok := editableColumns[name]
		if !ok {
			return eris.Errorf("postgres: field %q is not editable", name)
		}
		args = append(args, val)
		set += ", " + col + " = $" + strconv.Itoa(len(args))
	}

	tag, err := s.pool.Exec(ctx, "UPDATE extracted_data SET "+set+" WHERE document_id = $1", args...)
	if err != nil {
		return eris.Wrap(err, "postgres: mark user edited")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateEmailAccount(ctx context.Context, account *model.EmailAccount) (*model.EmailAccount, error) {
	out := *account
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now().UTC()
	if out.SyncStatus == "" {
		out.SyncStatus = model.SyncStatusIdle
	}
	if out.HistoricalScanMonths == 0 {
		out.HistoricalScanMonths = 12
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO email_accounts (id, org_id, user_id, provider, email_address, oauth_token_encrypted, refresh_token_encrypted, sync_status, historical_scan_months, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)`,
		out.ID, out.OrgID, out.UserID, string(out.Provider), out.EmailAddress,
		out.OAuthTokenEncrypted, out.RefreshTokenEncrypted, string(out.SyncStatus),
		out.HistoricalScanMonths, out.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert email account")
	}
	return &out, nil
}

func (s *PostgresStore) GetEmailAccount(ctx context.Context, id string) (*model.EmailAccount, error) {
	var a model.EmailAccount
	err := s.pool.QueryRow(ctx, "get_email_account", id).Scan(
		&a.ID, &a.OrgID, &a.UserID, &a.Provider, &a.EmailAddress,
		&a.OAuthTokenEncrypted, &a.RefreshTokenEncrypted, &a.LastSyncAt,
		&a.SyncStatus, &a.HistoricalScanMonths, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get email account")
	}
	return &a, nil
}

func (s *PostgresStore) UpdateEmailAccountSync(ctx context.Context, id string, status model.SyncStatus, lastSyncAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, "update_email_account_sync", string(status), lastSyncAt, id)
	if err != nil {
		return eris.Wrap(err, "postgres: update email account sync")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateEmailAccountTokens(ctx context.Context, id string, tokens TokenUpdate) error {
	tag, err := s.pool.Exec(ctx, "update_email_account_tokens",
		tokens.AccessTokenEncrypted, tokens.RefreshTokenEncrypted, id)
	if err != nil {
		return eris.Wrap(err, "postgres: update email account tokens")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountEmailAccounts(ctx context.Context, orgID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "count_email_accounts", orgID).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count email accounts")
	}
	return n, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	return s.scanOrg(s.pool.QueryRow(ctx, "get_org", id))
}

func (s *PostgresStore) GetOrganizationByWhatsApp(ctx context.Context, phoneNumber string) (*model.Organization, error) {
	return s.scanOrg(s.pool.QueryRow(ctx, "get_org_by_whatsapp", phoneNumber))
}

func (s *PostgresStore) scanOrg(row pgx.Row) (*model.Organization, error) {
	var o model.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Plan, &o.WhatsAppNumber, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan organization")
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
