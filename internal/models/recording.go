package models

import "time"

// RecordingStatus represents recording lifecycle.
type RecordingStatus string

const (
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusReady      RecordingStatus = "ready"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// IsTerminal reports whether no further status change is possible.
func (s RecordingStatus) IsTerminal() bool {
	return s == RecordingStatusReady || s == RecordingStatusFailed
}

// Recording is the artifact produced after a live session ends.
type Recording struct {
	ID            string          `json:"id"`
	CourseID      string          `json:"course_id"`
	SessionID     string          `json:"session_id,omitempty"`
	Title         string          `json:"title"`
	Date          time.Time       `json:"date"`
	Duration      int             `json:"duration"` // seconds
	Status        RecordingStatus `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	ArtifactKey   string          `json:"artifact_key,omitempty"`
	CreatedSeq    int64           `json:"-"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
