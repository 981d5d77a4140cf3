package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bookeep/ingest/internal/config"
)

// DocumentHandler processes one document task.
type DocumentHandler interface {
	Process(ctx context.Context, documentID string) error
}

// ScanHandler runs one mailbox scan task.
type ScanHandler interface {
	Scan(ctx context.Context, payload EmailScanPayload) error
}

// Server consumes the two queues. Document processing outweighs mailbox
// scans in both priority and share of workers.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisCfg config.RedisConfig, workerCfg config.WorkerConfig, docs DocumentHandler, scans ScanHandler) *Server {
	docConcurrency := workerCfg.DocumentConcurrency
	if docConcurrency <= 0 {
		docConcurrency = 5
	}
	scanConcurrency := workerCfg.EmailConcurrency
	if scanConcurrency <= 0 {
		scanConcurrency = 2
	}
	processTimeout := time.Duration(workerCfg.ProcessTimeoutSecs) * time.Second
	if processTimeout <= 0 {
		processTimeout = 5 * time.Minute
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: docConcurrency + scanConcurrency,
			Queues: map[string]int{
				QueueDocumentProcess: docConcurrency,
				QueueEmailScan:       scanConcurrency,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				zap.L().Error("queue: task failed",
					zap.String("type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err))
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeDocumentProcess, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseDocumentProcessPayload(task.Payload())
		if err != nil {
			// Undecodable payloads will never succeed.
			return eris.Wrap(asynq.SkipRetry, eris.ToString(err, false))
		}
		ctx, cancel := context.WithTimeout(ctx, processTimeout)
		defer cancel()
		return docs.Process(ctx, payload.DocumentID)
	})
	mux.HandleFunc(TaskTypeEmailScan, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseEmailScanPayload(task.Payload())
		if err != nil {
			return eris.Wrap(asynq.SkipRetry, eris.ToString(err, false))
		}
		return scans.Scan(ctx, payload)
	})

	return &Server{server: server, mux: mux}
}

// retryDelay backs off exponentially with a one minute cap.
func retryDelay(n int, _ error, task *asynq.Task) time.Duration {
	base := 3 * time.Second
	if task.Type() == TaskTypeEmailScan {
		base = 5 * time.Second
	}
	delay := base * (1 << uint(n))
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// Run blocks serving tasks until Shutdown.
func (s *Server) Run() error {
	if err := s.server.Run(s.mux); err != nil {
		return eris.Wrap(err, "queue: run server")
	}
	return nil
}

// Shutdown waits for in-flight tasks to finish.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}
