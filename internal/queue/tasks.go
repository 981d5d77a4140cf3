// Package queue wraps asynq task submission and serving for the two
// background workloads: document processing and mailbox scans.
package queue

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"

	"github.com/bookeep/ingest/internal/model"
)

const (
	TaskTypeDocumentProcess = "document:process"
	TaskTypeEmailScan       = "email:scan"

	QueueDocumentProcess = "document-process"
	QueueEmailScan       = "email-scan"
)

// DocumentProcessPayload identifies the document to run through extraction.
type DocumentProcessPayload struct {
	DocumentID string `json:"document_id"`
}

// EmailScanPayload identifies the mailbox and scan window.
type EmailScanPayload struct {
	EmailAccountID string         `json:"email_account_id"`
	Mode           model.SyncMode `json:"mode"`
}

// NewDocumentProcessTask builds the asynq task for a document.
func NewDocumentProcessTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DocumentProcessPayload{DocumentID: documentID})
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal document payload")
	}
	return asynq.NewTask(TaskTypeDocumentProcess, payload), nil
}

// NewEmailScanTask builds the asynq task for a mailbox scan.
func NewEmailScanTask(accountID string, mode model.SyncMode) (*asynq.Task, error) {
	payload, err := json.Marshal(EmailScanPayload{EmailAccountID: accountID, Mode: mode})
	if err != nil {
		return nil, eris.Wrap(err, "queue: marshal scan payload")
	}
	return asynq.NewTask(TaskTypeEmailScan, payload), nil
}

// ParseDocumentProcessPayload decodes a document task payload.
func ParseDocumentProcessPayload(data []byte) (DocumentProcessPayload, error) {
	var p DocumentProcessPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, eris.Wrap(err, "queue: unmarshal document payload")
	}
	if p.DocumentID == "" {
		return p, eris.New("queue: document payload missing document_id")
	}
	return p, nil
}

// ParseEmailScanPayload decodes a scan task payload.
func ParseEmailScanPayload(data []byte) (EmailScanPayload, error) {
	var p EmailScanPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, eris.Wrap(err, "queue: unmarshal scan payload")
	}
	if p.EmailAccountID == "" {
		return p, eris.New("queue: scan payload missing email_account_id")
	}
	if p.Mode == "" {
		p.Mode = model.SyncModeIncremental
	}
	return p, nil
}
