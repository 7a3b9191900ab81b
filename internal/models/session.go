package models

import "time"

// SessionStatus is the state of a live teaching session.
type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionConnecting SessionStatus = "connecting"
	SessionLive       SessionStatus = "live"
	SessionEnding     SessionStatus = "ending"
	SessionEnded      SessionStatus = "ended"
	SessionErrored    SessionStatus = "errored"
)

// IsTerminal reports whether the session can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionEnded || s == SessionErrored
}

// Session is one live teaching instance of a course.
type Session struct {
	ID        string        `json:"session_id"`
	CourseID  string        `json:"course_id"`
	Title     string        `json:"title,omitempty"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Err       string        `json:"error,omitempty"` // set only when errored
	// RecordingID is set once an ended session has produced a recording.
	RecordingID string `json:"recording_id,omitempty"`
}

// Duration returns the elapsed live time, up to EndedAt when set.
func (s Session) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}
