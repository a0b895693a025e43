package calls

import "time"

type EventKind string

const (
	EventStatusChange     EventKind = "status_change"
	EventCallStarted      EventKind = "call_started"
	EventCallEnded        EventKind = "call_ended"
	EventRecordingStarted EventKind = "recording_started"
	EventRecordingEnded   EventKind = "recording_ended"
	EventHold             EventKind = "hold"
	EventTransfer         EventKind = "transfer"
)

// StatusChange is carried by every EventStatusChange.
type StatusChange struct {
	Previous  Status    `json:"previous"`
	Current   Status    `json:"current"`
	Timestamp time.Time `json:"timestamp"`
	CallID    string    `json:"callId"`
}

// Event is one lifecycle notification. Only the fields relevant to Kind are set.
// Call is a snapshot taken when the event was produced.
type Event struct {
	Kind      EventKind
	CallID    string
	Timestamp time.Time

	Change    *StatusChange
	Call      *Call
	Recording *Recording
	Summary   *Summary
}

// Listener receives events in the order the engine produced them.
// Listeners run outside the engine lock and may call back into the engine.
type Listener func(Event)
