package models

import (
	"encoding/json"
	"time"
)

// EventType discriminates session events. It doubles as the realtime message event name.
type EventType string

const (
	EventShareScreen     EventType = "share_screen"
	EventInsertQuestion  EventType = "insert_question"
	EventOpenChat        EventType = "open_chat"
	EventToggleRecording EventType = "toggle_recording"

	EventSessionStarted     EventType = "session_started"
	EventSessionEnded       EventType = "session_ended"
	EventSessionFailed      EventType = "session_failed"
	EventChannelReconnected EventType = "channel_reconnected"
)

// IsUserAction reports whether t is an action a presenter can trigger while live.
func (t EventType) IsUserAction() bool {
	switch t {
	case EventShareScreen, EventInsertQuestion, EventOpenChat, EventToggleRecording:
		return true
	}
	return false
}

// SessionEvent is one entry of a session's append-only audit log.
type SessionEvent struct {
	SessionID string          `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the fields every stored event must carry.
func (e SessionEvent) Validate() error {
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	return nil
}
