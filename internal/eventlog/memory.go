package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/aura-classroom/backend/internal/models"
)

// MemoryStore keeps the log in process memory. Used in tests and single-instance dev runs.
type MemoryStore struct {
	mu     sync.Mutex
	seq    int64
	events map[string][]models.SessionEvent
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]models.SessionEvent), now: time.Now}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, event models.SessionEvent) (models.SessionEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.SessionEvent{}, err
	}
	event, err := prepare(event, s.now)
	if err != nil {
		return models.SessionEvent{}, err
	}
	if len(event.Payload) > 0 {
		event.Payload = append([]byte(nil), event.Payload...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	event.Seq = s.seq
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return event, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]models.SessionEvent, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	s.mu.Unlock()

	sortEvents(out)
	return out, nil
}
