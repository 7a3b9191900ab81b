package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/eventlog"
	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/recordings"
)

type stack struct {
	srv      *httptest.Server
	hub      *realtime.Hub
	registry *Registry
	manager  *recordings.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtSvc := auth.NewJWTService("test-secret", 1, time.Minute)
	hub := realtime.NewHub(nil, nil, nil)
	log := eventlog.NewMemoryStore()
	manager := recordings.NewManager(recordings.NewMemoryRegistry(), recordings.ReadinessPolicy{PollsUntilReady: 2})

	s := &stack{hub: hub, manager: manager}
	s.registry = NewRegistry(func() *live.Controller {
		return live.NewController(live.Config{
			Channel:   realtime.NewChannel(s.srv.URL),
			Log:       log,
			Recorder:  manager,
			Tokens:    jwtSvc,
			Reconnect: live.ReconnectPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
		})
	}, WithEndHook(hub.CloseRoom))

	r := gin.New()
	r.GET("/live/:sessionId/ws", realtime.ServeLive(hub, nil, func(token string) (realtime.Identity, error) {
		claims, err := jwtSvc.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{UserID: claims.UserID, Role: claims.Role, SessionID: claims.SessionID}, nil
	}))
	NewHandler(s.registry, log, jwtSvc, nil).Register(r, r)
	s.srv = httptest.NewServer(r)
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (s *stack) do(t *testing.T, method, path, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestSessions_LiveToRecording(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := newStack(t)
	defer s.srv.Close()
	defer s.registry.Shutdown(context.Background())

	code, env := s.do(t, http.MethodPost, "/courses/course-live-1/sessions", `{"title":"Week 1"}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var sess models.Session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	assert.Equal(t, models.SessionLive, sess.Status)
	assert.Equal(t, "course-live-1", sess.CourseID)
	require.Eventually(t, func() bool { return s.hub.ParticipantCount(sess.ID) == 1 }, 2*time.Second, 5*time.Millisecond)

	code, _ = s.do(t, http.MethodPost, "/courses/course-live-1/sessions", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/actions", `{"type":"share_screen","payload":{"on":true}}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	var ev models.SessionEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	assert.Equal(t, models.EventShareScreen, ev.Type)

	code, _ = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/actions", `{"type":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodPost, "/sessions/missing/actions", `{"type":"open_chat"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/join-token", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"ws_url":"/live/`+sess.ID+`/ws"`)

	code, env = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/end", "")
	require.Equal(t, http.StatusOK, code, env.Error)
	var ended EndResponse
	require.NoError(t, json.Unmarshal(env.Data, &ended))
	require.NotNil(t, ended.Recording)
	assert.Equal(t, models.SessionEnded, ended.Session.Status)
	assert.Equal(t, "course-live-1", ended.Recording.CourseID)
	assert.Equal(t, "Week 1", ended.Recording.Title)
	assert.Equal(t, models.RecordingStatusProcessing, ended.Recording.Status)
	assert.Equal(t, ended.Recording.ID, ended.Session.RecordingID)

	code, _ = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/actions", `{"type":"open_chat"}`)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = s.do(t, http.MethodPost, "/sessions/"+sess.ID+"/end", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(t, http.MethodGet, "/sessions/"+sess.ID+"/events", "")
	require.Equal(t, http.StatusOK, code)
	var events []models.SessionEvent
	require.NoError(t, json.Unmarshal(env.Data, &events))
	types := make([]models.EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []models.EventType{models.EventSessionStarted, models.EventShareScreen, models.EventSessionEnded}, types)

	rec, err := recordings.Watch(context.Background(), s.manager, ended.Recording.ID, recordings.PollPolicy{MaxPolls: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusReady, rec.Status)

	require.Eventually(t, func() bool { return s.hub.ParticipantCount(sess.ID) == 0 }, 2*time.Second, 5*time.Millisecond)

	// the course is free again
	code, env = s.do(t, http.MethodPost, "/courses/course-live-1/sessions", "")
	require.Equal(t, http.StatusCreated, code, env.Error)
}

func TestSessions_StartValidation(t *testing.T) {
	s := newStack(t)
	defer s.srv.Close()

	code, _ := s.do(t, http.MethodPost, "/courses/%20/sessions", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.do(t, http.MethodGet, "/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}
