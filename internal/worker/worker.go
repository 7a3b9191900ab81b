package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/metrics"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/storage"
)

var errDrop = errors.New("job dropped")

// EventSource reads a session's event log. eventlog.Store implements it.
type EventSource interface {
	Query(ctx context.Context, sessionID string) ([]models.SessionEvent, error)
}

// ArtifactStore stores encoded artifacts. *storage.S3 implements it.
type ArtifactStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	UploadRecordingsBucket() string
}

// Recordings finishes recordings. *recordings.Manager implements it.
type Recordings interface {
	Get(ctx context.Context, id string) (models.Recording, error)
	Complete(ctx context.Context, id, artifactKey string) (models.Recording, error)
	Fail(ctx context.Context, id, reason string) (models.Recording, error)
}

// Artifact is the document uploaded for a recording.
type Artifact struct {
	Recording   models.Recording      `json:"recording"`
	Events      []models.SessionEvent `json:"events"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// RecordingProcessor processes recording encode jobs: read the session log, upload the
// artifact to S3, mark the recording ready.
type RecordingProcessor struct {
	recordings Recordings
	events     EventSource
	store      ArtifactStore
	queue      *queue.Queue
	logger     *zap.Logger
	retryDelay time.Duration
	poll       time.Duration
	now        func() time.Time
}

// Option configures a RecordingProcessor.
type Option func(*RecordingProcessor)

// WithRetryDelay sets the pause after a failed job. Defaults to queue.RetryBackoff.
func WithRetryDelay(d time.Duration) Option {
	return func(p *RecordingProcessor) { p.retryDelay = d }
}

// WithPollTimeout bounds each blocking dequeue, and so how quickly Run notices shutdown.
func WithPollTimeout(d time.Duration) Option {
	return func(p *RecordingProcessor) { p.poll = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *RecordingProcessor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewRecordingProcessor creates a recording encode processor.
func NewRecordingProcessor(recs Recordings, events EventSource, store ArtifactStore, q *queue.Queue, opts ...Option) *RecordingProcessor {
	p := &RecordingProcessor{
		recordings: recs,
		events:     events,
		store:      store,
		queue:      q,
		logger:     zap.NewNop(),
		retryDelay: queue.RetryBackoff,
		poll:       5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process executes one recording encode job.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingEncode {
		return fmt.Errorf("unknown job type %s: %w", job.Type, errDrop)
	}
	var payload queue.RecordingEncodePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, errDrop)
	}

	rec, err := p.recordings.Get(ctx, payload.RecordingID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("recording %s: %w", payload.RecordingID, errDrop)
	}
	if err != nil {
		return fmt.Errorf("get recording: %w", err)
	}
	if rec.Status.IsTerminal() {
		p.logger.Info("recording already finished", zap.String("recording_id", rec.ID), zap.String("status", string(rec.Status)))
		return nil
	}

	var events []models.SessionEvent
	if rec.SessionID != "" {
		events, err = p.events.Query(ctx, rec.SessionID)
		if err != nil {
			return fmt.Errorf("query session events: %w", err)
		}
	}
	body, err := json.Marshal(Artifact{Recording: rec, Events: events, GeneratedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	key := storage.RecordingKey(rec.CourseID, rec.ID)
	if _, err := p.store.Upload(ctx, p.store.UploadRecordingsBucket(), key, storage.ArtifactContentType, bytes.NewReader(body), int64(len(body))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if _, err := p.recordings.Complete(ctx, rec.ID, key); err != nil {
		if errors.Is(err, models.ErrInvalidState) {
			p.logger.Warn("recording finished while encoding", zap.String("recording_id", rec.ID), zap.Error(err))
			return nil
		}
		return fmt.Errorf("complete recording: %w", err)
	}

	p.logger.Info("recording encode completed", zap.String("recording_id", rec.ID), zap.String("s3_key", key), zap.Int("events", len(events)))
	return nil
}

// Handle processes a job and routes failures to retry or, after queue.MaxRetries, to the
// DLQ and a failed recording. It reports whether the caller should back off.
func (p *RecordingProcessor) Handle(ctx context.Context, job *queue.Job) bool {
	err := p.Process(ctx, job)
	if err == nil {
		metrics.IncEncodeJob(metrics.EncodeCompleted)
		return false
	}
	if errors.Is(err, errDrop) {
		p.logger.Warn("job dropped", zap.String("job_id", job.ID), zap.Error(err))
		metrics.IncEncodeJob(metrics.EncodeDropped)
		return false
	}

	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	dead, reErr := p.queue.Retry(ctx, job, err)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
		return true
	}
	if !dead {
		metrics.IncEncodeJob(metrics.EncodeRetried)
		return true
	}

	metrics.IncEncodeJob(metrics.EncodeDeadLettered)
	var payload queue.RecordingEncodePayload
	if json.Unmarshal(job.Payload, &payload) == nil && payload.RecordingID != "" {
		if _, ferr := p.recordings.Fail(ctx, payload.RecordingID, "encode failed: "+err.Error()); ferr != nil {
			p.logger.Error("mark recording failed", zap.String("recording_id", payload.RecordingID), zap.Error(ferr))
		}
	}
	return true
}

// Run starts the worker loop until ctx is done.
func (p *RecordingProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("recording worker stopping")
			return
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.sleep(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if backOff := p.Handle(ctx, job); backOff {
			p.sleep(ctx)
		}
	}
}

func (p *RecordingProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
