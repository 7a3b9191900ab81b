package live

import (
	"github.com/aura-classroom/backend/internal/models"
)

// Event drives the session state machine.
type Event string

const (
	EventStart        Event = "start"
	EventChannelOpen  Event = "channel_open"
	EventAction       Event = "action"
	EventEnd          Event = "end"
	EventDone         Event = "done"
	EventChannelLost  Event = "channel_lost"
	EventChannelError Event = "channel_error"
)

type transition struct {
	From  models.SessionStatus
	Event Event
	To    models.SessionStatus
}

// transitions is the complete set of legal moves; anything else is rejected.
var transitions = []transition{
	{models.SessionIdle, EventStart, models.SessionConnecting},
	{models.SessionConnecting, EventChannelOpen, models.SessionLive},
	{models.SessionLive, EventAction, models.SessionLive},
	{models.SessionLive, EventEnd, models.SessionEnding},
	{models.SessionLive, EventChannelLost, models.SessionConnecting},
	{models.SessionEnding, EventDone, models.SessionEnded},
	{models.SessionConnecting, EventChannelError, models.SessionErrored},
	{models.SessionLive, EventChannelError, models.SessionErrored},
	{models.SessionEnding, EventChannelError, models.SessionErrored},
}

var transitionIndex = func() map[models.SessionStatus]map[Event]models.SessionStatus {
	idx := make(map[models.SessionStatus]map[Event]models.SessionStatus)
	for _, t := range transitions {
		if idx[t.From] == nil {
			idx[t.From] = make(map[Event]models.SessionStatus)
		}
		idx[t.From][t.Event] = t.To
	}
	return idx
}()

// Next returns the state reached from from on ev, or a *models.StateError.
func Next(from models.SessionStatus, ev Event) (models.SessionStatus, error) {
	if to, ok := transitionIndex[from][ev]; ok {
		return to, nil
	}
	return from, &models.StateError{State: from, Op: string(ev)}
}
