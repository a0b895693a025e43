package telephony

import (
	"strconv"
	"time"
)

// twilioStatusEvents maps Twilio CallStatus values to hub events.
// queued and initiated carry no lifecycle information for the hub.
var twilioStatusEvents = map[string]EventType{
	"ringing":     EventCallRinging,
	"in-progress": EventCallAnswered,
	"answered":    EventCallAnswered,
	"completed":   EventCallEnded,
	"busy":        EventCallEnded,
	"failed":      EventCallEnded,
	"no-answer":   EventCallEnded,
	"canceled":    EventCallEnded,
}

// ToStatusEvent converts a status callback. ok is false for statuses the hub ignores.
func (f TwilioCallForm) ToStatusEvent(occurredAt time.Time) (TrunkEvent, bool) {
	typ, ok := twilioStatusEvents[f.CallStatus]
	if !ok {
		return TrunkEvent{}, false
	}
	ev := TrunkEvent{
		Type:       typ,
		CallID:     f.CallID(),
		Caller:     f.From,
		Trunk:      f.To,
		AgentID:    f.AgentID,
		Provider:   "twilio",
		OccurredAt: occurredAt,
	}
	if typ == EventCallEnded && f.CallDuration != "" {
		if d, err := strconv.ParseFloat(f.CallDuration, 64); err == nil {
			ev.Duration = d
		}
	}
	return ev, true
}
