package calls

import "time"

// Call is one voice interaction tracked by an Engine.
//
// Duration is never stored; it is derived from StartTime and EndTime.
// The persisted row (store.CallRecord) links the same id to a lead and conversation.
type Call struct {
	ID             string    `json:"id"`
	Direction      Direction `json:"direction"`
	PhoneNumber    string    `json:"phoneNumber"`
	LeadID         string    `json:"leadId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`

	Status Status `json:"status"`

	StartTime  time.Time  `json:"startTime"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	EndTime    *time.Time `json:"endTime,omitempty"`

	OnHold        bool   `json:"onHold"`
	TransferredTo string `json:"transferredTo,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Duration in seconds: EndTime-StartTime once ended, now-StartTime while live.
func (c Call) Duration(now time.Time) float64 {
	return span(c.StartTime, c.EndTime, now)
}

func (c Call) clone() Call {
	out := c
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		out.AnsweredAt = &t
	}
	if c.EndTime != nil {
		t := *c.EndTime
		out.EndTime = &t
	}
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusCalling   Status = "calling"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
)

// Active reports whether s is a non-terminal call status.
func (s Status) Active() bool {
	switch s {
	case StatusCalling, StatusRinging, StatusConnected:
		return true
	default:
		return false
	}
}

// Recording is the capture sub-lifecycle bound to one call.
type Recording struct {
	ID        string          `json:"id"`
	CallID    string          `json:"callId"`
	Status    RecordingStatus `json:"status"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
}

func (r Recording) Duration(now time.Time) float64 {
	return span(r.StartTime, r.EndTime, now)
}

func (r Recording) clone() Recording {
	out := r
	if r.EndTime != nil {
		t := *r.EndTime
		out.EndTime = &t
	}
	return out
}

type RecordingStatus string

const (
	RecordingActive    RecordingStatus = "recording"
	RecordingCompleted RecordingStatus = "completed"
)

// Summary is published once when a call ends.
type Summary struct {
	CallID      string      `json:"callId"`
	Direction   Direction   `json:"direction"`
	PhoneNumber string      `json:"phoneNumber"`
	StartTime   time.Time   `json:"startTime"`
	EndTime     time.Time   `json:"endTime"`
	Duration    float64     `json:"duration"`
	Recordings  []Recording `json:"recordings,omitempty"`
}

func span(start time.Time, end *time.Time, now time.Time) float64 {
	to := now
	if end != nil {
		to = *end
	}
	d := to.Sub(start).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
