package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/eventlog"
	"github.com/aura-classroom/backend/internal/metrics"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/recordings"
)

const appendTimeout = 5 * time.Second

// Channel is the realtime transport driven by a Controller. *realtime.Channel implements it.
type Channel interface {
	Connect(ctx context.Context, sessionID, token string) error
	Send(ctx context.Context, msg realtime.Message) error
	Close() error
	Status() realtime.ChannelStatus
	OnStatus(fn func(realtime.StatusChange))
}

// Recorder creates the recording of an ended session. *recordings.Manager implements it.
type Recorder interface {
	Create(ctx context.Context, courseID string, opts ...recordings.CreateOption) (models.Recording, error)
}

// TokenSource mints the token the controller presents to the live endpoint.
type TokenSource interface {
	LiveToken(sessionID string) (string, error)
}

// ReconnectPolicy bounds connection attempts, both on Start and after a dropped channel.
// MaxAttempts == 0 on a live session disables reconnection: a dropped channel errors the session.
type ReconnectPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultReconnectPolicy is used when Config.Reconnect is zero.
var DefaultReconnectPolicy = ReconnectPolicy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}

func (p ReconnectPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Action is a classroom action submitted by the presenter.
type Action struct {
	Type    models.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Config wires a Controller.
type Config struct {
	Channel   Channel
	Log       eventlog.Store
	Recorder  Recorder
	Tokens    TokenSource
	Reconnect ReconnectPolicy
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// StartOption customizes Start.
type StartOption func(*models.Session)

// WithTitle names the session; the title is carried onto its recording.
func WithTitle(title string) StartOption {
	return func(s *models.Session) { s.Title = strings.TrimSpace(title) }
}

// Controller runs one live session through idle, connecting, live, ending and ended
// (or errored). It is the only writer of the session's event log.
type Controller struct {
	channel   Channel
	log       eventlog.Store
	recorder  Recorder
	tokens    TokenSource
	reconnect ReconnectPolicy
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	// actionMu orders event log appends together with the transitions that accompany them.
	actionMu sync.Mutex

	mu      sync.Mutex
	session models.Session
	subs    map[int]chan models.Session
	nextSub int
	closed  bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "ses_" + uuid.NewString() }
	}
	if cfg.Reconnect == (ReconnectPolicy{}) {
		cfg.Reconnect = DefaultReconnectPolicy
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		channel:   cfg.Channel,
		log:       cfg.Log,
		recorder:  cfg.Recorder,
		tokens:    cfg.Tokens,
		reconnect: cfg.Reconnect,
		logger:    cfg.Logger,
		now:       cfg.Now,
		newID:     cfg.NewID,
		session:   models.Session{Status: models.SessionIdle},
		subs:      make(map[int]chan models.Session),
		runCtx:    ctx,
		cancel:    cancel,
	}
	c.channel.OnStatus(c.onChannelStatus)
	return c
}

// Session returns a snapshot of the session.
func (c *Controller) Session() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel carrying the latest session snapshot after every change.
// Slow readers only see the most recent snapshot. The channel is closed once the session
// is terminal or cancel is called.
func (c *Controller) Subscribe() (<-chan models.Session, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan models.Session, 1)
	ch <- c.snapshotLocked()
	if c.session.Status.IsTerminal() {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Start connects the session channel for courseID and moves the session live. A session
// whose start cannot be logged is failed and returned errored.
func (c *Controller) Start(ctx context.Context, courseID string, opts ...StartOption) (models.Session, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return models.Session{}, &models.ValidationError{Field: "course_id", Reason: "required"}
	}

	c.mu.Lock()
	if err := c.fireLocked(EventStart); err != nil {
		c.mu.Unlock()
		return models.Session{}, err
	}
	c.session.ID = c.newID()
	c.session.CourseID = courseID
	for _, opt := range opts {
		opt(&c.session)
	}
	c.publishLocked()
	sessionID := c.session.ID
	c.mu.Unlock()

	logger := c.logger.With(zap.String("session_id", sessionID), zap.String("course_id", courseID))
	logger.Info("starting live session")

	attempts, err := c.connect(ctx, sessionID)

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err != nil {
		logger.Error("live session failed to connect", zap.Int("attempts", attempts), zap.Error(err))
		c.fail(err)
		return c.Session(), err
	}

	c.mu.Lock()
	if err := c.fireLocked(EventChannelOpen); err != nil {
		c.mu.Unlock()
		return c.Session(), err
	}
	c.session.StartedAt = c.now().UTC()
	c.publishLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]interface{}{"course_id": courseID, "title": snap.Title})
	if _, err := c.append(ctx, sessionID, models.EventSessionStarted, payload); err != nil {
		err = fmt.Errorf("session %s: log session start: %w", sessionID, err)
		logger.Error("live session failed to log its start", zap.Error(err))
		c.fail(err)
		return c.Session(), err
	}
	logger.Info("live session started", zap.Int("attempts", attempts))

	// the channel may have dropped between connecting and going live
	if st := c.channel.Status(); st != realtime.ChannelOpen {
		c.onChannelStatus(realtime.StatusChange{SessionID: sessionID, Status: st})
	}
	return snap, nil
}

// Submit sends a classroom action over the channel and then logs it. Actions are serialized.
// A send failure leaves no log entry; a log failure after a successful send is returned.
func (c *Controller) Submit(ctx context.Context, a Action) (models.SessionEvent, error) {
	if !a.Type.IsUserAction() {
		return models.SessionEvent{}, &models.ValidationError{Field: "type", Reason: "unknown action " + strings.TrimSpace(string(a.Type))}
	}
	if len(a.Payload) > 0 && !json.Valid(a.Payload) {
		return models.SessionEvent{}, &models.ValidationError{Field: "payload", Reason: "invalid json"}
	}

	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	c.mu.Lock()
	_, err := Next(c.session.Status, EventAction)
	sessionID := c.session.ID
	c.mu.Unlock()
	if err != nil {
		return models.SessionEvent{}, err
	}

	if err := c.channel.Send(ctx, realtime.Message{Event: string(a.Type), Data: a.Payload}); err != nil {
		metrics.IncSessionAction(string(a.Type), "send_failed")
		return models.SessionEvent{}, fmt.Errorf("send %s: %w", a.Type, err)
	}
	ev, err := c.append(ctx, sessionID, a.Type, a.Payload)
	if err != nil {
		metrics.IncSessionAction(string(a.Type), "log_failed")
		return models.SessionEvent{}, fmt.Errorf("log %s: %w", a.Type, err)
	}
	metrics.IncSessionAction(string(a.Type), "logged")
	return ev, nil
}

// End closes the live session and creates its recording. Once begun, ending is not
// interrupted by ctx cancellation. If session_ended cannot be logged the session still ends
// and the recording is returned together with the log error.
func (c *Controller) End(ctx context.Context) (models.Recording, error) {
	ctx = context.WithoutCancel(ctx)

	c.actionMu.Lock()
	defer c.actionMu.Unlock()

	c.mu.Lock()
	if err := c.fireLocked(EventEnd); err != nil {
		c.mu.Unlock()
		return models.Recording{}, err
	}
	c.publishLocked()
	sess := c.snapshotLocked()
	c.mu.Unlock()

	logger := c.logger.With(zap.String("session_id", sess.ID), zap.String("course_id", sess.CourseID))
	if err := c.channel.Close(); err != nil {
		err = fmt.Errorf("%w: close channel: %w", models.ErrChannel, err)
		logger.Error("closing live channel failed", zap.Error(err))
		c.fail(err)
		return models.Recording{}, err
	}

	endedAt := c.now().UTC()
	duration := endedAt.Sub(sess.StartedAt)
	if duration < 0 {
		duration = 0
	}
	c.mu.Lock()
	c.session.EndedAt = &endedAt
	c.mu.Unlock()

	payload, _ := json.Marshal(map[string]int{"duration": int(duration / time.Second)})
	var logErr error
	if _, err := c.append(ctx, sess.ID, models.EventSessionEnded, payload); err != nil {
		logger.Error("log session end failed", zap.Error(err))
		logErr = fmt.Errorf("log session end: %w", err)
	}

	rec, err := c.recorder.Create(ctx, sess.CourseID,
		recordings.WithSessionID(sess.ID),
		recordings.WithDuration(duration),
		recordings.WithTitle(sess.Title),
		recordings.WithDate(sess.StartedAt))

	c.mu.Lock()
	_ = c.fireLocked(EventDone)
	if err == nil {
		c.session.RecordingID = rec.ID
	}
	c.publishLocked()
	c.mu.Unlock()
	c.cancel()

	if err != nil {
		logger.Error("create recording failed", zap.Error(err))
		return models.Recording{}, errors.Join(fmt.Errorf("create recording: %w", err), logErr)
	}
	logger.Info("live session ended", zap.String("recording_id", rec.ID), zap.Duration("duration", duration))
	return rec, logErr
}

// Close stops background reconnection and releases the channel. A session that is
// still reconnecting ends up errored.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return c.channel.Close()
}

func (c *Controller) onChannelStatus(change realtime.StatusChange) {
	if change.Status != realtime.ChannelClosed && change.Status != realtime.ChannelErrored {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.session.Status != models.SessionLive || change.SessionID != c.session.ID {
		return
	}
	c.wg.Add(1)
	go c.recover(change)
}

// recover handles a channel lost while live: bounded reconnection, or failure.
func (c *Controller) recover(change realtime.StatusChange) {
	defer c.wg.Done()

	cause := change.Err
	if cause == nil {
		cause = fmt.Errorf("%w: channel %s", models.ErrChannel, change.Status)
	}
	logger := c.logger.With(zap.String("session_id", change.SessionID))

	if c.reconnect.MaxAttempts == 0 {
		c.actionMu.Lock()
		defer c.actionMu.Unlock()
		logger.Warn("live channel lost, reconnection disabled", zap.Error(cause))
		c.fail(cause)
		return
	}

	c.mu.Lock()
	if err := c.fireLocked(EventChannelLost); err != nil {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
	c.mu.Unlock()
	logger.Warn("live channel lost, reconnecting", zap.Error(cause))

	attempts, err := c.connect(c.runCtx, change.SessionID)

	c.actionMu.Lock()
	defer c.actionMu.Unlock()
	if err != nil {
		metrics.IncReconnect("exhausted")
		logger.Error("live channel reconnection exhausted", zap.Int("attempts", attempts), zap.Error(err))
		c.fail(err)
		return
	}

	c.mu.Lock()
	if err := c.fireLocked(EventChannelOpen); err != nil {
		c.mu.Unlock()
		return
	}
	c.publishLocked()
	c.mu.Unlock()
	metrics.IncReconnect("recovered")
	logger.Info("live channel reconnected", zap.Int("attempts", attempts))

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	payload, _ := json.Marshal(map[string]int{"attempts": attempts})
	if _, err := c.append(ctx, change.SessionID, models.EventChannelReconnected, payload); err != nil {
		logger.Error("log channel reconnect failed", zap.Error(err))
	}
}

// connect dials the channel with the reconnect policy. It returns the number of attempts made.
func (c *Controller) connect(ctx context.Context, sessionID string) (int, error) {
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		token := ""
		if c.tokens != nil {
			var err error
			if token, err = c.tokens.LiveToken(sessionID); err != nil {
				return struct{}{}, backoff.Permanent(fmt.Errorf("live token: %w", err))
			}
		}
		if err := c.channel.Connect(ctx, sessionID, token); err != nil {
			if errors.Is(err, models.ErrValidation) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	tries := c.reconnect.MaxAttempts
	if tries == 0 {
		tries = 1
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.reconnect.backOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("live channel connect retry", zap.String("session_id", sessionID), zap.Duration("next", next), zap.Error(err))
		}))
	if err != nil && !errors.Is(err, models.ErrChannel) {
		err = fmt.Errorf("%w: connect %s: %w", models.ErrChannel, sessionID, err)
	}
	return attempts, err
}

// fail moves the session to errored and logs session_failed. Callers hold actionMu.
func (c *Controller) fail(cause error) {
	c.mu.Lock()
	if err := c.fireLocked(EventChannelError); err != nil {
		c.mu.Unlock()
		return
	}
	now := c.now().UTC()
	c.session.EndedAt = &now
	c.session.Err = cause.Error()
	c.publishLocked()
	sessionID := c.session.ID
	c.mu.Unlock()

	_ = c.channel.Close()
	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if _, err := c.append(ctx, sessionID, models.EventSessionFailed, payload); err != nil {
		c.logger.Error("log session failure failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (c *Controller) append(ctx context.Context, sessionID string, typ models.EventType, payload json.RawMessage) (models.SessionEvent, error) {
	ev, err := c.log.Append(ctx, models.SessionEvent{
		SessionID: sessionID,
		Type:      typ,
		Timestamp: c.now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		return models.SessionEvent{}, err
	}
	metrics.IncEventAppended(string(typ))
	return ev, nil
}

func (c *Controller) fireLocked(ev Event) error {
	to, err := Next(c.session.Status, ev)
	if err != nil {
		return err
	}
	if to != c.session.Status {
		c.logger.Debug("session transition",
			zap.String("session_id", c.session.ID),
			zap.String("from", string(c.session.Status)),
			zap.String("event", string(ev)),
			zap.String("to", string(to)))
		metrics.IncSessionTransition(string(to))
	}
	c.session.Status = to
	return nil
}

func (c *Controller) snapshotLocked() models.Session {
	s := c.session
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

// publishLocked delivers the current snapshot to subscribers, replacing any unread one.
func (c *Controller) publishLocked() {
	snap := c.snapshotLocked()
	for id, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
		if snap.Status.IsTerminal() {
			close(ch)
			delete(c.subs, id)
		}
	}
}
