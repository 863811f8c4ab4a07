// Package worker runs background jobs: archiving the transcripts of ended sessions to S3.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/watchparty/internal/metrics"
	"github.com/aura-webinar/watchparty/internal/models"
	"github.com/aura-webinar/watchparty/pkg/queue"
	"github.com/aura-webinar/watchparty/pkg/storage"
)

// JobSource is the job queue. *queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (deadLettered bool, err error)
}

// ObjectStore uploads transcript documents. *storage.S3 implements it.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	TranscriptsBucket() string
}

// TranscriptStore records exported transcripts. *transcripts.Repository implements it.
type TranscriptStore interface {
	Save(ctx context.Context, t models.Transcript) error
}

// document is the archived JSON layout.
type document struct {
	SessionID string           `json:"session_id"`
	VideoID   string           `json:"video_id"`
	HostID    string           `json:"host_id"`
	Name      string           `json:"name,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Messages  []models.Message `json:"messages"`
}

// TranscriptExporter processes transcript export jobs: serialize, upload to S3, record in DB.
type TranscriptExporter struct {
	queue   JobSource
	objects ObjectStore
	store   TranscriptStore
	backoff time.Duration
	logger  *zap.Logger
}

// NewTranscriptExporter creates a transcript export processor.
func NewTranscriptExporter(q JobSource, objects ObjectStore, store TranscriptStore, logger *zap.Logger) *TranscriptExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptExporter{queue: q, objects: objects, store: store, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one transcript export job.
func (p *TranscriptExporter) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeTranscript(job)
	if err != nil {
		return err
	}
	body, err := json.Marshal(document{
		SessionID: payload.SessionID,
		VideoID:   payload.VideoID,
		HostID:    payload.HostID,
		Name:      payload.Name,
		StartedAt: payload.StartedAt,
		EndedAt:   payload.EndedAt,
		Messages:  payload.Messages,
	})
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	key := storage.TranscriptKey(payload.VideoID, payload.SessionID)
	if _, err := p.objects.Upload(ctx, p.objects.TranscriptsBucket(), key, storage.ContentTypeJSON, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	if err := p.store.Save(ctx, models.Transcript{
		SessionID:  payload.SessionID,
		VideoID:    payload.VideoID,
		S3Key:      key,
		Messages:   len(payload.Messages),
		ExportedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("update db: %w", err)
	}

	metrics.TranscriptExports.WithLabelValues("stored").Inc()
	p.logger.Info("transcript export completed", zap.String("session_id", payload.SessionID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *TranscriptExporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("transcript worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			dead, reErr := p.queue.Retry(ctx, job)
			switch {
			case reErr != nil:
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			case dead:
				metrics.TranscriptExports.WithLabelValues("dead_letter").Inc()
			default:
				metrics.TranscriptExports.WithLabelValues("retried").Inc()
			}
			p.sleep(ctx)
		}
	}
}

func (p *TranscriptExporter) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
