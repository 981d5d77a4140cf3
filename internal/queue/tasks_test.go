package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookeep/ingest/internal/model"
)

func TestDocumentProcessTask_RoundTrip(t *testing.T) {
	task, err := NewDocumentProcessTask("doc-42")
	require.NoError(t, err)
	assert.Equal(t, TaskTypeDocumentProcess, task.Type())

	p, err := ParseDocumentProcessPayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, "doc-42", p.DocumentID)
}

func TestParseDocumentProcessPayload_Invalid(t *testing.T) {
	_, err := ParseDocumentProcessPayload([]byte("not json"))
	require.Error(t, err)

	_, err = ParseDocumentProcessPayload([]byte(`{"document_id": ""}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing document_id")
}

func TestEmailScanTask_RoundTrip(t *testing.T) {
	task, err := NewEmailScanTask("acct-7", model.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeEmailScan, task.Type())

	p, err := ParseEmailScanPayload(task.Payload())
	require.NoError(t, err)
	assert.Equal(t, "acct-7", p.EmailAccountID)
	assert.Equal(t, model.SyncModeFull, p.Mode)
}

func TestParseEmailScanPayload_DefaultsToIncremental(t *testing.T) {
	p, err := ParseEmailScanPayload([]byte(`{"email_account_id": "acct-1"}`))
	require.NoError(t, err)
	assert.Equal(t, model.SyncModeIncremental, p.Mode)
}

func TestRetryDelay(t *testing.T) {
	docTask, _ := NewDocumentProcessTask("d")
	scanTask, _ := NewEmailScanTask("a", model.SyncModeIncremental)

	assert.Equal(t, 3*time.Second, retryDelay(0, nil, docTask))
	assert.Equal(t, 6*time.Second, retryDelay(1, nil, docTask))
	assert.Equal(t, 12*time.Second, retryDelay(2, nil, docTask))

	assert.Equal(t, 5*time.Second, retryDelay(0, nil, scanTask))
	assert.Equal(t, 10*time.Second, retryDelay(1, nil, scanTask))

	// Capped.
	assert.Equal(t, time.Minute, retryDelay(10, nil, docTask))
}
