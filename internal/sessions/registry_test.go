package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/eventlog"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/recordings"
)

type stubChannel struct {
	mu      sync.Mutex
	status  realtime.ChannelStatus
	dialErr error
}

func (c *stubChannel) Connect(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dialErr != nil {
		c.status = realtime.ChannelErrored
		return c.dialErr
	}
	c.status = realtime.ChannelOpen
	return nil
}

func (c *stubChannel) Send(context.Context, realtime.Message) error { return nil }

func (c *stubChannel) Close() error {
	c.mu.Lock()
	c.status = realtime.ChannelClosed
	c.mu.Unlock()
	return nil
}

func (c *stubChannel) Status() realtime.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *stubChannel) OnStatus(func(realtime.StatusChange)) {}

type stubTokens struct{}

func (stubTokens) LiveToken(string) (string, error) { return "tok", nil }

// rejectingLog fails appends of one event type until healed.
type rejectingLog struct {
	eventlog.Store
	reject models.EventType
	healed atomic.Bool
}

func (l *rejectingLog) Append(ctx context.Context, ev models.SessionEvent) (models.SessionEvent, error) {
	if ev.Type == l.reject && !l.healed.Load() {
		return models.SessionEvent{}, errors.New("log unavailable")
	}
	return l.Store.Append(ctx, ev)
}

func newTestRegistry(dialErr error, ended *[]string, opts ...RegistryOption) *Registry {
	return newRegistryWithLog(eventlog.NewMemoryStore(), dialErr, ended, opts...)
}

func newRegistryWithLog(log eventlog.Store, dialErr error, ended *[]string, opts ...RegistryOption) *Registry {
	manager := recordings.NewManager(recordings.NewMemoryRegistry(), recordings.ReadinessPolicy{})
	opts = append([]RegistryOption{WithEndHook(func(id string) { *ended = append(*ended, id) })}, opts...)
	return NewRegistry(func() *live.Controller {
		return live.NewController(live.Config{
			Channel:   &stubChannel{dialErr: dialErr},
			Log:       log,
			Recorder:  manager,
			Tokens:    stubTokens{},
			Reconnect: live.ReconnectPolicy{MaxAttempts: 1},
		})
	}, opts...)
}

func TestRegistry_OneActiveSessionPerCourse(t *testing.T) {
	var ended []string
	r := newTestRegistry(nil, &ended)
	ctx := context.Background()

	first, err := r.Start(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, first.Status)

	_, err = r.Start(ctx, "course-1")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	other, err := r.Start(ctx, "course-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	rec, err := r.End(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, rec.SessionID)
	assert.Equal(t, []string{first.ID}, ended)

	// ended sessions stay readable
	s, err := r.Session(first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, s.Status)

	again, err := r.Start(ctx, "course-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, again.Status)

	r.Shutdown(ctx)
	s, err = r.Session(again.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, s.Status)
}

func TestRegistry_FailedStartFreesCourse(t *testing.T) {
	var ended []string
	r := newTestRegistry(errors.New("dial refused"), &ended)

	sess, err := r.Start(context.Background(), "course-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrChannel)
	assert.Equal(t, models.SessionErrored, sess.Status)
	assert.Equal(t, []string{sess.ID}, ended)

	_, err = r.Start(context.Background(), "course-1")
	assert.ErrorIs(t, err, models.ErrChannel)
}

func TestRegistry_UnknownSession(t *testing.T) {
	var ended []string
	r := newTestRegistry(nil, &ended)

	_, err := r.Session("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.Submit(context.Background(), "missing", live.Action{Type: models.EventOpenChat})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = r.End(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, ended)
}

func TestRegistry_UnloggedStartFailsSession(t *testing.T) {
	var ended []string
	store := eventlog.NewMemoryStore()
	log := &rejectingLog{Store: store, reject: models.EventSessionStarted}
	r := newRegistryWithLog(log, nil, &ended)
	ctx := context.Background()

	sess, err := r.Start(ctx, "course-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log unavailable")
	assert.Contains(t, err.Error(), sess.ID)
	assert.Equal(t, models.SessionErrored, sess.Status)
	assert.Equal(t, []string{sess.ID}, ended)

	events, err := store.Query(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSessionFailed, events[0].Type)

	log.healed.Store(true)
	next, err := r.Start(ctx, "course-1")
	require.NoError(t, err, "the failed session must not hold the course")
	assert.Equal(t, models.SessionLive, next.Status)
	assert.Equal(t, []string{sess.ID}, ended, "a live session's room stays open")
}

func TestRegistry_UnloggedEndStillEnds(t *testing.T) {
	var ended []string
	store := eventlog.NewMemoryStore()
	r := newRegistryWithLog(&rejectingLog{Store: store, reject: models.EventSessionEnded}, nil, &ended)
	ctx := context.Background()

	sess, err := r.Start(ctx, "course-1")
	require.NoError(t, err)

	rec, err := r.End(ctx, sess.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log unavailable")
	require.NotEmpty(t, rec.ID)
	assert.Contains(t, err.Error(), rec.ID)
	assert.Equal(t, sess.ID, rec.SessionID)
	assert.Equal(t, []string{sess.ID}, ended)

	s, err := r.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, s.Status)

	_, err = r.Start(ctx, "course-1")
	require.NoError(t, err)
}

func TestRegistry_EvictsOldFinishedSessions(t *testing.T) {
	var ended []string
	r := newTestRegistry(nil, &ended, WithRetainEnded(1))
	ctx := context.Background()

	first, err := r.Start(ctx, "course-1")
	require.NoError(t, err)
	_, err = r.End(ctx, first.ID)
	require.NoError(t, err)
	_, err = r.Session(first.ID)
	require.NoError(t, err)

	second, err := r.Start(ctx, "course-2")
	require.NoError(t, err)
	_, err = r.End(ctx, second.ID)
	require.NoError(t, err)

	_, err = r.Session(first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	s, err := r.Session(second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, s.Status)

	current, err := r.Start(ctx, "course-3")
	require.NoError(t, err)
	_, err = r.Session(current.ID)
	assert.NoError(t, err, "live sessions are never evicted")
}
