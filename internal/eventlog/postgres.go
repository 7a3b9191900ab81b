package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/database"
)

// PostgresStore persists events in the session_events table. seq is a BIGSERIAL, so
// concurrent inserts get distinct, monotonically assigned sequence numbers.
type PostgresStore struct {
	db  database.DB
	now func() time.Time
}

// NewPostgresStore creates a postgres-backed event log.
func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, event models.SessionEvent) (models.SessionEvent, error) {
	event, err := prepare(event, s.now)
	if err != nil {
		return models.SessionEvent{}, err
	}
	var payload []byte
	if len(event.Payload) > 0 {
		payload = event.Payload
	}
	const q = `INSERT INTO session_events (session_id, type, payload, occurred_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq`
	if err := s.db.QueryRow(ctx, q, event.SessionID, string(event.Type), payload, event.Timestamp).Scan(&event.Seq); err != nil {
		return models.SessionEvent{}, fmt.Errorf("insert session event: %w", err)
	}
	return event, nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	const q = `SELECT session_id, seq, type, payload, occurred_at
		FROM session_events WHERE session_id = $1 ORDER BY occurred_at ASC, seq ASC`
	rows, err := s.db.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	list := []models.SessionEvent{}
	for rows.Next() {
		var (
			ev      models.SessionEvent
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &typ, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.Type = models.EventType(typ)
		if len(payload) > 0 {
			ev.Payload = payload
		}
		ev.Timestamp = ev.Timestamp.UTC()
		list = append(list, ev)
	}
	return list, rows.Err()
}
