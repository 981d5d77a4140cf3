package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/config"
	"github.com/bookeep/ingest/internal/model"
)

// Enqueuer submits background work. Satisfied by *Client; pipelines accept
// the interface so tests can capture submissions.
type Enqueuer interface {
	EnqueueDocumentProcess(ctx context.Context, documentID string) error
	EnqueueEmailScan(ctx context.Context, accountID string, mode model.SyncMode) error
}

// Client enqueues tasks onto Redis.
type Client struct {
	client     *asynq.Client
	maxRetries int
}

func NewClient(cfg config.RedisConfig, workerCfg config.WorkerConfig) *Client {
	maxRetries := workerCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		maxRetries: maxRetries,
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueDocumentProcess submits a document for extraction.
func (c *Client) EnqueueDocumentProcess(ctx context.Context, documentID string) error {
	task, err := NewDocumentProcessTask(documentID)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDocumentProcess),
		asynq.MaxRetry(c.maxRetries),
	)
	if err != nil {
		return eris.Wrap(err, "queue: enqueue document process")
	}
	zap.L().Debug("queue: document task enqueued",
		zap.String("task_id", info.ID),
		zap.String("document_id", documentID))
	return nil
}

// EnqueueEmailScan submits a mailbox scan. Uniqueness over a short window
// keeps double-clicked sync buttons from piling up duplicate scans.
func (c *Client) EnqueueEmailScan(ctx context.Context, accountID string, mode model.SyncMode) error {
	task, err := NewEmailScanTask(accountID, mode)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueEmailScan),
		asynq.MaxRetry(c.maxRetries),
		asynq.Unique(10*time.Minute),
	)
	if err != nil {
		if eris.Is(err, asynq.ErrDuplicateTask) {
			return eris.Wrap(ErrScanAlreadyQueued, accountID)
		}
		return eris.Wrap(err, "queue: enqueue email scan")
	}
	zap.L().Debug("queue: scan task enqueued",
		zap.String("task_id", info.ID),
		zap.String("email_account_id", accountID),
		zap.String("mode", string(mode)))
	return nil
}

// ErrScanAlreadyQueued indicates an identical scan is already pending.
var ErrScanAlreadyQueued = eris.New("scan already queued")
