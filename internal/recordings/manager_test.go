package recordings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
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

type captureNotifier struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (n *captureNotifier) Publish(_ context.Context, ev LifecycleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("rec_%d", n)
	}
}

func newTestManager(policy ReadinessPolicy, opts ...ManagerOption) (*Manager, *fakeClock) {
	clock := newFakeClock()
	opts = append([]ManagerOption{WithClock(clock.Now), WithIDGenerator(sequentialIDs())}, opts...)
	return NewManager(NewMemoryRegistry(), policy, opts...), clock
}

func TestManager_CreateRequiresCourse(t *testing.T) {
	m, _ := newTestManager(ReadinessPolicy{})
	_, err := m.Create(context.Background(), "  ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "course_id", verr.Field)
}

func TestManager_CreateReturnsProcessing(t *testing.T) {
	m, clock := newTestManager(ReadinessPolicy{})
	rec, err := m.Create(context.Background(), "course-live-1",
		WithSessionID("ses_1"), WithDuration(95*time.Second), WithTitle("Graphs, week 3"))
	require.NoError(t, err)

	assert.Equal(t, "rec_1", rec.ID)
	assert.Equal(t, "course-live-1", rec.CourseID)
	assert.Equal(t, "ses_1", rec.SessionID)
	assert.Equal(t, "Graphs, week 3", rec.Title)
	assert.Equal(t, 95, rec.Duration)
	assert.Equal(t, models.RecordingStatusProcessing, rec.Status)
	assert.True(t, rec.Date.Equal(clock.Now()))

	got, err := m.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestManager_ReadyAfterPolls(t *testing.T) {
	m, _ := newTestManager(ReadinessPolicy{PollsUntilReady: 3})
	ctx := context.Background()
	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err)

	first, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	second, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusProcessing, first.Status)
	assert.Equal(t, first, second)

	third, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusReady, third.Status)

	for i := 0; i < 3; i++ {
		again, err := m.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RecordingStatusReady, again.Status)
	}
}

func TestManager_FirstReadIsProcessing(t *testing.T) {
	policies := map[string]ReadinessPolicy{
		"one poll":          {PollsUntilReady: 1},
		"instant":           {ProcessingTime: time.Nanosecond},
		"both":              {PollsUntilReady: 1, ProcessingTime: time.Nanosecond},
		"default polls":     {PollsUntilReady: 3},
		"completion driven": {},
	}
	for name, policy := range policies {
		t.Run(name, func(t *testing.T) {
			m, clock := newTestManager(policy)
			ctx := context.Background()
			rec, err := m.Create(ctx, "course-1")
			require.NoError(t, err)
			clock.Advance(time.Hour)

			got, err := m.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RecordingStatusProcessing, got.Status)
		})
	}
}

func TestManager_SinglePollPolicyReadyOnSecondRead(t *testing.T) {
	m, _ := newTestManager(ReadinessPolicy{PollsUntilReady: 1})
	ctx := context.Background()
	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err)

	list, err := m.List(ctx, Filter{CourseID: "course-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.RecordingStatusProcessing, list[0].Status)

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusReady, got.Status)
}

func TestManager_ReadyAfterProcessingTime(t *testing.T) {
	m, clock := newTestManager(ReadinessPolicy{ProcessingTime: 30 * time.Second})
	ctx := context.Background()
	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusProcessing, got.Status)

	clock.Advance(time.Second)
	got, err = m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusReady, got.Status)
}

func TestManager_NoPolicyStaysProcessing(t *testing.T) {
	m, clock := newTestManager(ReadinessPolicy{})
	ctx := context.Background()
	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	for i := 0; i < 10; i++ {
		got, err := m.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RecordingStatusProcessing, got.Status)
	}
}

func TestManager_GetUnknown(t *testing.T) {
	m, _ := newTestManager(ReadinessPolicy{})
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestManager_ListFiltersAndOrders(t *testing.T) {
	m, clock := newTestManager(ReadinessPolicy{})
	ctx := context.Background()

	a1, _ := m.Create(ctx, "course-a")
	a2, _ := m.Create(ctx, "course-a")
	_, _ = m.Create(ctx, "course-b")
	older, _ := m.Create(ctx, "course-a", WithDate(clock.Now().Add(-time.Hour)))
	newer, _ := m.Create(ctx, "course-a", WithDate(clock.Now().Add(time.Hour)))

	list, err := m.List(ctx, Filter{CourseID: "course-a"})
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{newer.ID, a1.ID, a2.ID, older.ID}, ids)

	all, err := m.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := m.List(ctx, Filter{CourseID: "course-z"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManager_ListObservesEachRecord(t *testing.T) {
	m, _ := newTestManager(ReadinessPolicy{PollsUntilReady: 2})
	ctx := context.Background()
	_, _ = m.Create(ctx, "course-a")
	_, _ = m.Create(ctx, "course-a")

	list, err := m.List(ctx, Filter{CourseID: "course-a"})
	require.NoError(t, err)
	for _, r := range list {
		assert.Equal(t, models.RecordingStatusProcessing, r.Status)
	}
	list, err = m.List(ctx, Filter{CourseID: "course-a"})
	require.NoError(t, err)
	for _, r := range list {
		assert.Equal(t, models.RecordingStatusReady, r.Status)
	}
}

func TestManager_CompleteAndFail(t *testing.T) {
	m, _ := newTestManager(ReadinessPolicy{})
	ctx := context.Background()
	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err)

	done, err := m.Complete(ctx, rec.ID, "recordings/course-1/rec_1.json")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusReady, done.Status)
	assert.Equal(t, "recordings/course-1/rec_1.json", done.ArtifactKey)

	again, err := m.Complete(ctx, rec.ID, "recordings/course-1/rec_1.json")
	require.NoError(t, err)
	assert.Equal(t, done, again)

	_, err = m.Fail(ctx, rec.ID, "encoder crashed")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = m.Fail(ctx, "missing", "x")
	assert.ErrorIs(t, err, models.ErrNotFound)

	other, _ := m.Create(ctx, "course-1")
	failed, err := m.Fail(ctx, other.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusFailed, failed.Status)
	assert.Equal(t, "unknown", failed.FailureReason)
}

func TestManager_NotifiesAndSubmits(t *testing.T) {
	notifier := &captureNotifier{}
	var submitted []string
	pipeline := PipelineFunc(func(_ context.Context, rec models.Recording) error {
		submitted = append(submitted, rec.ID)
		return errors.New("queue down")
	})
	m, _ := newTestManager(ReadinessPolicy{PollsUntilReady: 1}, WithNotifier(notifier), WithPipeline(pipeline))
	ctx := context.Background()

	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err, "pipeline failures must not fail Create")
	assert.Equal(t, []string{rec.ID}, submitted)

	_, err = m.Get(ctx, rec.ID)
	require.NoError(t, err)
	_, err = m.Get(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{EventRecordingCreated, EventRecordingReady}, notifier.types())
}

func TestManager_ConcurrentReadsTransitionOnce(t *testing.T) {
	notifier := &captureNotifier{}
	m, _ := newTestManager(ReadinessPolicy{PollsUntilReady: 5}, WithNotifier(notifier))
	ctx := context.Background()
	rec, err := m.Create(ctx, "course-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Get(ctx, rec.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusReady, got.Status)
	assert.Equal(t, []string{EventRecordingCreated, EventRecordingReady}, notifier.types())
}
