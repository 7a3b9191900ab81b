package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_session_transitions_total",
		Help: "Live session state transitions by target state",
	}, []string{"to"})

	sessionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_session_actions_total",
		Help: "Classroom actions submitted by type and outcome",
	}, []string{"type", "outcome"}) // outcome=logged|send_failed|log_failed

	sessionReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_session_reconnects_total",
		Help: "Channel reconnect attempts by outcome",
	}, []string{"outcome"}) // outcome=recovered|exhausted

	liveParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "classroom_live_participants",
		Help: "Websocket peers connected to this instance per session",
	}, []string{"session_id"})

	eventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_events_appended_total",
		Help: "Session events appended to the event log by type",
	}, []string{"type"})

	recordingStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_recordings_total",
		Help: "Recording lifecycle events by status",
	}, []string{"status"}) // status=processing|ready|failed

	encodeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_encode_jobs_total",
		Help: "Recording encode jobs by outcome",
	}, []string{"outcome"})
)

// Encode job outcomes.
const (
	EncodeCompleted    = "completed"
	EncodeDropped      = "dropped"
	EncodeRetried      = "retried"
	EncodeDeadLettered = "dead_lettered"
)

func IncSessionTransition(to string)       { sessionTransitions.WithLabelValues(to).Inc() }
func IncSessionAction(typ, outcome string) { sessionActions.WithLabelValues(typ, outcome).Inc() }
func IncReconnect(outcome string)          { sessionReconnects.WithLabelValues(outcome).Inc() }
func IncEventAppended(typ string)          { eventsAppended.WithLabelValues(typ).Inc() }
func IncRecordingStatus(status string)     { recordingStatus.WithLabelValues(status).Inc() }
func IncEncodeJob(outcome string)          { encodeJobs.WithLabelValues(outcome).Inc() }

// SetLiveParticipants records the peer count of a session; zero removes the series.
func SetLiveParticipants(sessionID string, n int) {
	if n <= 0 {
		liveParticipants.DeleteLabelValues(sessionID)
		return
	}
	liveParticipants.WithLabelValues(sessionID).Set(float64(n))
}
