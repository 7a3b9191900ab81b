// Package eventlog is the append-only audit trail of live session actions.
package eventlog

import (
	"context"
	"sort"
	"time"

	"github.com/aura-classroom/backend/internal/models"
)

// Store appends and reads session events. Implementations must be safe for concurrent use:
// no append is lost or duplicated, and Query reflects every Append that returned before it began.
type Store interface {
	// Append validates and persists the event, returning it with Seq (and Timestamp when unset) filled in.
	Append(ctx context.Context, event models.SessionEvent) (models.SessionEvent, error)
	// Query returns a snapshot of all events for the session, Timestamp ascending, ties in insertion order.
	Query(ctx context.Context, sessionID string) ([]models.SessionEvent, error)
}

func prepare(event models.SessionEvent, now func() time.Time) (models.SessionEvent, error) {
	if err := event.Validate(); err != nil {
		return models.SessionEvent{}, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now()
	}
	event.Timestamp = event.Timestamp.UTC()
	return event, nil
}

// sortEvents orders by timestamp, then by store sequence (insertion order).
func sortEvents(events []models.SessionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Seq < events[j].Seq
	})
}
