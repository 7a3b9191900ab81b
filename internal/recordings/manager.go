package recordings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/metrics"
	"github.com/aura-classroom/backend/internal/models"
)

// ReadinessPolicy decides when a processing recording becomes ready on its own.
// A recording is ready once it has been observed PollsUntilReady times or has been
// processing for ProcessingTime, whichever comes first. The first observation after
// Create always sees processing, so PollsUntilReady below 2 acts as 2. Zero values
// disable each rule; with both disabled only Complete or Fail finish a recording.
type ReadinessPolicy struct {
	PollsUntilReady int
	ProcessingTime  time.Duration
}

func (p ReadinessPolicy) ready(observations int, age time.Duration) bool {
	if observations < 2 {
		return false
	}
	if p.PollsUntilReady > 0 && observations >= p.PollsUntilReady {
		return true
	}
	return p.ProcessingTime > 0 && age >= p.ProcessingTime
}

// Lifecycle event types published through a Notifier.
const (
	EventRecordingCreated = "recording.created"
	EventRecordingReady   = "recording.ready"
	EventRecordingFailed  = "recording.failed"
)

// LifecycleEvent describes a recording status change.
type LifecycleEvent struct {
	Type      string           `json:"type"`
	Recording models.Recording `json:"recording"`
	At        time.Time        `json:"at"`
}

// Notifier publishes lifecycle events. Failures are logged, never surfaced to callers.
type Notifier interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
}

// Pipeline hands a new recording to the encoding worker.
type Pipeline interface {
	Submit(ctx context.Context, rec models.Recording) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, rec models.Recording) error

func (f PipelineFunc) Submit(ctx context.Context, rec models.Recording) error { return f(ctx, rec) }

// Filter narrows List. An empty CourseID lists every course.
type Filter struct {
	CourseID string
}

// CreateOption customizes Create.
type CreateOption func(*models.Recording)

// WithSessionID links the recording to the live session that produced it.
func WithSessionID(id string) CreateOption {
	return func(r *models.Recording) { r.SessionID = id }
}

// WithDuration sets the recorded length.
func WithDuration(d time.Duration) CreateOption {
	return func(r *models.Recording) {
		if d > 0 {
			r.Duration = int(d.Round(time.Second) / time.Second)
		}
	}
}

// WithTitle overrides the default title.
func WithTitle(title string) CreateOption {
	return func(r *models.Recording) {
		if t := strings.TrimSpace(title); t != "" {
			r.Title = t
		}
	}
}

// WithDate overrides the recorded date.
func WithDate(at time.Time) CreateOption {
	return func(r *models.Recording) {
		if !at.IsZero() {
			r.Date = at.UTC()
		}
	}
}

// Manager owns recording lifecycle: creation, readiness and terminal transitions.
type Manager struct {
	registry Registry
	policy   ReadinessPolicy
	now      func() time.Time
	newID    func() string
	notifier Notifier
	pipeline Pipeline
	logger   *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock injects the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator injects the id source.
func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *Manager) { m.newID = fn }
}

// WithNotifier publishes lifecycle events.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithPipeline submits new recordings for encoding.
func WithPipeline(p Pipeline) ManagerOption {
	return func(m *Manager) { m.pipeline = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a recording manager over registry.
func NewManager(registry Registry, policy ReadinessPolicy, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		policy:   policy,
		now:      time.Now,
		newID:    func() string { return "rec_" + uuid.NewString() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a processing recording for courseID.
func (m *Manager) Create(ctx context.Context, courseID string, opts ...CreateOption) (models.Recording, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return models.Recording{}, &models.ValidationError{Field: "course_id", Reason: "required"}
	}
	now := m.now().UTC()
	rec := models.Recording{
		ID:        m.newID(),
		CourseID:  courseID,
		Date:      now,
		Status:    models.RecordingStatusProcessing,
		UpdatedAt: now,
	}
	rec.Title = "Live session " + now.Format("2006-01-02 15:04")
	for _, opt := range opts {
		opt(&rec)
	}

	rec, err := m.registry.Insert(ctx, rec)
	if err != nil {
		return models.Recording{}, err
	}
	m.logger.Info("recording created",
		zap.String("recording_id", rec.ID),
		zap.String("course_id", rec.CourseID),
		zap.String("session_id", rec.SessionID),
		zap.Int("duration", rec.Duration))
	m.publish(ctx, EventRecordingCreated, rec)

	if m.pipeline != nil {
		if err := m.pipeline.Submit(ctx, rec); err != nil {
			m.logger.Error("submit recording for encoding failed", zap.String("recording_id", rec.ID), zap.Error(err))
		}
	}
	return rec, nil
}

// Get returns the recording, advancing it to ready when the readiness policy is met.
func (m *Manager) Get(ctx context.Context, id string) (models.Recording, error) {
	rec, err := m.registry.Get(ctx, id)
	if err != nil {
		return models.Recording{}, err
	}
	return m.observe(ctx, rec)
}

// List returns the recordings matching f, each observed once.
func (m *Manager) List(ctx context.Context, f Filter) ([]models.Recording, error) {
	list, err := m.registry.List(ctx, strings.TrimSpace(f.CourseID))
	if err != nil {
		return nil, err
	}
	for i := range list {
		rec, err := m.observe(ctx, list[i])
		if err != nil {
			return nil, err
		}
		list[i] = rec
	}
	return list, nil
}

func (m *Manager) observe(ctx context.Context, rec models.Recording) (models.Recording, error) {
	if rec.Status != models.RecordingStatusProcessing {
		return rec, nil
	}
	if m.policy.PollsUntilReady <= 0 && m.policy.ProcessingTime <= 0 {
		return rec, nil
	}
	n, err := m.registry.Observe(ctx, rec.ID)
	if err != nil {
		return models.Recording{}, err
	}
	if n == 0 {
		// finished concurrently
		return m.registry.Get(ctx, rec.ID)
	}
	now := m.now().UTC()
	if !m.policy.ready(n, now.Sub(rec.UpdatedAt)) {
		return rec, nil
	}
	updated, changed, err := m.registry.Transition(ctx, rec.ID, models.RecordingStatusReady, "", rec.ArtifactKey, now)
	if err != nil {
		return models.Recording{}, err
	}
	if changed {
		m.logger.Info("recording ready", zap.String("recording_id", rec.ID), zap.Int("observations", n))
		m.publish(ctx, EventRecordingReady, updated)
	}
	return updated, nil
}

// Complete marks a processing recording ready with its stored artifact.
func (m *Manager) Complete(ctx context.Context, id, artifactKey string) (models.Recording, error) {
	return m.finish(ctx, id, models.RecordingStatusReady, "", artifactKey)
}

// Fail marks a processing recording failed.
func (m *Manager) Fail(ctx context.Context, id, reason string) (models.Recording, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "unknown"
	}
	return m.finish(ctx, id, models.RecordingStatusFailed, reason, "")
}

func (m *Manager) finish(ctx context.Context, id string, status models.RecordingStatus, reason, artifactKey string) (models.Recording, error) {
	if strings.TrimSpace(id) == "" {
		return models.Recording{}, &models.ValidationError{Field: "id", Reason: "required"}
	}
	rec, changed, err := m.registry.Transition(ctx, id, status, reason, artifactKey, m.now().UTC())
	if err != nil {
		return models.Recording{}, err
	}
	if !changed {
		if rec.Status == status {
			return rec, nil
		}
		return rec, fmt.Errorf("recording %s is %s: %w", id, rec.Status, models.ErrInvalidState)
	}
	ev := EventRecordingReady
	if status == models.RecordingStatusFailed {
		ev = EventRecordingFailed
		m.logger.Warn("recording failed", zap.String("recording_id", id), zap.String("reason", reason))
	} else {
		m.logger.Info("recording ready", zap.String("recording_id", id), zap.String("artifact_key", artifactKey))
	}
	m.publish(ctx, ev, rec)
	return rec, nil
}

func (m *Manager) publish(ctx context.Context, typ string, rec models.Recording) {
	metrics.IncRecordingStatus(string(rec.Status))
	if m.notifier == nil {
		return
	}
	ev := LifecycleEvent{Type: typ, Recording: rec, At: m.now().UTC()}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), ev); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("publish recording event failed", zap.String("type", typ), zap.String("recording_id", rec.ID), zap.Error(err))
	}
}
