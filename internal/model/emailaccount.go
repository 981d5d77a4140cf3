package model

import "time"

// EmailProvider identifies the mail API backing a connected account.
type EmailProvider string

const (
	ProviderGmail   EmailProvider = "gmail"
	ProviderOutlook EmailProvider = "outlook"
	ProviderIMAP    EmailProvider = "imap"
)

// SyncStatus is the mailbox sync lifecycle, owned by the email sync pipeline.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// SyncMode selects between a 12-month backfill and a since-last-sync scan.
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// EmailAccount is a connected mailbox under sync. OAuth tokens are stored
// encrypted at rest; only the sync pipeline transitions SyncStatus.
type EmailAccount struct {
	ID                    string        `json:"id"`
	OrgID                 string        `json:"org_id"`
	UserID                string        `json:"user_id,omitempty"`
	Provider              EmailProvider `json:"provider"`
	EmailAddress          string        `json:"email_address"`
	OAuthTokenEncrypted   string        `json:"-"`
	RefreshTokenEncrypted string        `json:"-"`
	LastSyncAt            *time.Time    `json:"last_sync_at,omitempty"`
	SyncStatus            SyncStatus    `json:"sync_status"`
	HistoricalScanMonths  int           `json:"historical_scan_months"`
	CreatedAt             time.Time     `json:"created_at"`
}
