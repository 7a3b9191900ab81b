package realtime

import (
	"encoding/json"
	"time"
)

const (
	// PingInterval and PongWait are used for heartbeat on both ends of the channel.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxMessage   = 65536
)

// Message is the websocket message envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload into a Message. []byte and json.RawMessage pass through unchanged.
func NewMessage(event string, payload interface{}) (Message, error) {
	var data []byte
	switch v := payload.(type) {
	case nil:
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return Message{}, err
		}
	}
	return Message{Event: event, Data: data}, nil
}
