package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aura-classroom/backend/internal/eventlog"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/recordings"
)

type fakeChannel struct {
	mu          sync.Mutex
	status      realtime.ChannelStatus
	sessionID   string
	connects    int
	connectErrs []error // consumed one per Connect; nil entries succeed
	failAll     error
	sendErr     error
	closeErr    error
	sent        []realtime.Message
	listeners   []func(realtime.StatusChange)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{status: realtime.ChannelClosed}
}

func (f *fakeChannel) Connect(ctx context.Context, sessionID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.connects++
	var err error
	if len(f.connectErrs) > 0 {
		err = f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
	} else {
		err = f.failAll
	}
	if err != nil {
		f.status = realtime.ChannelErrored
		f.mu.Unlock()
		return fmt.Errorf("%w: %w", models.ErrChannel, err)
	}
	f.status = realtime.ChannelOpen
	f.sessionID = sessionID
	f.mu.Unlock()
	f.notify(realtime.StatusChange{SessionID: sessionID, Status: realtime.ChannelOpen})
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg realtime.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != realtime.ChannelOpen {
		return models.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = realtime.ChannelClosed
	return f.closeErr
}

func (f *fakeChannel) Status() realtime.ChannelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeChannel) OnStatus(fn func(realtime.StatusChange)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// drop simulates the transport failing underneath an open channel.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.status = realtime.ChannelErrored
	id := f.sessionID
	f.mu.Unlock()
	f.notify(realtime.StatusChange{SessionID: id, Status: realtime.ChannelErrored, Err: fmt.Errorf("%w: connection reset", models.ErrChannel)})
}

func (f *fakeChannel) setFailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = err
}

func (f *fakeChannel) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeChannel) sentMessages() []realtime.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Message(nil), f.sent...)
}

func (f *fakeChannel) notify(change realtime.StatusChange) {
	f.mu.Lock()
	listeners := append([]func(realtime.StatusChange) nil, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(change)
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	created []models.Recording
	err     error
}

func (r *fakeRecorder) Create(_ context.Context, courseID string, opts ...recordings.CreateOption) (models.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return models.Recording{}, r.err
	}
	rec := models.Recording{ID: fmt.Sprintf("rec_%d", len(r.created)+1), CourseID: courseID, Status: models.RecordingStatusProcessing}
	for _, opt := range opts {
		opt(&rec)
	}
	r.created = append(r.created, rec)
	return rec, nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created)
}

// failingLog fails appends of the listed event types.
type failingLog struct {
	eventlog.Store
	fail map[models.EventType]bool
}

func (l *failingLog) Append(ctx context.Context, ev models.SessionEvent) (models.SessionEvent, error) {
	if l.fail[ev.Type] {
		return models.SessionEvent{}, errors.New("disk full")
	}
	return l.Store.Append(ctx, ev)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type staticTokens struct{}

func (staticTokens) LiveToken(sessionID string) (string, error) { return "tok-" + sessionID, nil }

type harness struct {
	ctrl     *Controller
	channel  *fakeChannel
	log      eventlog.Store
	recorder *fakeRecorder
	clock    *fakeClock
}

func newHarness(policy ReconnectPolicy) *harness {
	h := &harness{
		channel:  newFakeChannel(),
		log:      eventlog.NewMemoryStore(),
		recorder: &fakeRecorder{},
		clock:    &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	h.ctrl = h.build(policy)
	return h
}

func (h *harness) build(policy ReconnectPolicy) *Controller {
	return NewController(Config{
		Channel:   h.channel,
		Log:       h.log,
		Recorder:  h.recorder,
		Tokens:    staticTokens{},
		Reconnect: policy,
		Now:       h.clock.Now,
		NewID:     func() string { return "ses_1" },
	})
}

func (h *harness) eventTypes() []models.EventType {
	events, _ := h.log.Query(context.Background(), "ses_1")
	out := make([]models.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

var fastRetry = ReconnectPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func realtimeClosed() realtime.ChannelStatus { return realtime.ChannelClosed }
