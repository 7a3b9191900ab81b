package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/live"
	"github.com/aura-classroom/backend/internal/models"
)

// Registry owns the live controllers of this instance. A course has at most one
// non-terminal session at a time.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*live.Controller
	active   map[string]*live.Controller // course id -> current controller
	retired  []string                    // terminal session ids, oldest first
	retain   int
	newCtrl  func() *live.Controller
	onEnd    func(sessionID string)
	logger   *zap.Logger
}

// DefaultRetainEnded is how many finished sessions stay readable through Session.
const DefaultRetainEnded = 256

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEndHook is called with the session id after a session ends or fails to start.
func WithEndHook(fn func(sessionID string)) RegistryOption {
	return func(r *Registry) { r.onEnd = fn }
}

// WithRetainEnded bounds how many ended or errored sessions are kept for Session lookups.
// Older ones are evicted; their events stay in the log.
func WithRetainEnded(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.retain = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry building one controller per session with newCtrl.
func NewRegistry(newCtrl func() *live.Controller, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*live.Controller),
		active:   make(map[string]*live.Controller),
		retain:   DefaultRetainEnded,
		newCtrl:  newCtrl,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a new live session for courseID.
func (r *Registry) Start(ctx context.Context, courseID string, opts ...live.StartOption) (models.Session, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return models.Session{}, &models.ValidationError{Field: "course_id", Reason: "required"}
	}

	r.mu.Lock()
	if cur, ok := r.active[courseID]; ok {
		s := cur.Session()
		if !s.Status.IsTerminal() {
			r.mu.Unlock()
			return models.Session{}, fmt.Errorf("course %s already has session %s (%s): %w", courseID, s.ID, s.Status, models.ErrInvalidState)
		}
		if s.ID != "" {
			r.retireLocked(s.ID)
		}
		_ = cur.Close()
	}
	ctrl := r.newCtrl()
	r.active[courseID] = ctrl
	r.mu.Unlock()

	sess, err := ctrl.Start(ctx, courseID, opts...)

	terminal := sess.Status.IsTerminal()
	r.mu.Lock()
	if sess.ID != "" {
		r.sessions[sess.ID] = ctrl
	}
	if terminal || sess.ID == "" {
		if r.active[courseID] == ctrl {
			delete(r.active, courseID)
		}
	}
	if terminal && sess.ID != "" {
		r.retireLocked(sess.ID)
	}
	r.mu.Unlock()

	if err != nil {
		if terminal && sess.ID != "" && r.onEnd != nil {
			r.onEnd(sess.ID)
		}
		return sess, err
	}
	return sess, nil
}

// Get returns the controller of a session.
func (r *Registry) Get(sessionID string) (*live.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctrl, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	return ctrl, nil
}

// Session returns a snapshot of a session.
func (r *Registry) Session(sessionID string) (models.Session, error) {
	ctrl, err := r.Get(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	return ctrl.Session(), nil
}

// Submit forwards an action to the session's controller.
func (r *Registry) Submit(ctx context.Context, sessionID string, a live.Action) (models.SessionEvent, error) {
	ctrl, err := r.Get(sessionID)
	if err != nil {
		return models.SessionEvent{}, err
	}
	return ctrl.Submit(ctx, a)
}

// End ends the session and returns its recording.
func (r *Registry) End(ctx context.Context, sessionID string) (models.Recording, error) {
	ctrl, err := r.Get(sessionID)
	if err != nil {
		return models.Recording{}, err
	}
	rec, err := ctrl.End(ctx)
	if errors.Is(err, models.ErrInvalidState) {
		return models.Recording{}, err
	}
	r.release(ctrl)
	if r.onEnd != nil {
		r.onEnd(sessionID)
	}
	if err != nil && rec.ID != "" {
		return rec, fmt.Errorf("session %s ended with recording %s: %w", sessionID, rec.ID, err)
	}
	return rec, err
}

func (r *Registry) release(ctrl *live.Controller) {
	s := ctrl.Session()
	r.mu.Lock()
	if r.active[s.CourseID] == ctrl {
		delete(r.active, s.CourseID)
	}
	if s.ID != "" && r.sessions[s.ID] == ctrl {
		r.retireLocked(s.ID)
	}
	r.mu.Unlock()
	if err := ctrl.Close(); err != nil {
		r.logger.Warn("close controller failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// retireLocked queues a finished session for eviction and drops the oldest ones beyond
// the retention bound.
func (r *Registry) retireLocked(sessionID string) {
	for _, id := range r.retired {
		if id == sessionID {
			return
		}
	}
	r.retired = append(r.retired, sessionID)
	for len(r.retired) > r.retain {
		delete(r.sessions, r.retired[0])
		r.retired = r.retired[1:]
	}
}

// Shutdown ends every live session and releases all controllers.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ctrls := make([]*live.Controller, 0, len(r.active))
	for _, c := range r.active {
		ctrls = append(ctrls, c)
	}
	r.mu.Unlock()

	for _, c := range ctrls {
		s := c.Session()
		if s.Status == models.SessionLive {
			if _, err := c.End(ctx); err != nil {
				r.logger.Warn("end session on shutdown failed", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
		r.release(c)
	}
}
