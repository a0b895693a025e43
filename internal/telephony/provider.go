package telephony

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownEvent = errors.New("telephony: unknown event type")

// Trunk places outbound calls at the provider boundary.
//
// Rules:
// - No call state decisions here; the hub owns the lifecycle.
// - Dial returns once the provider accepted the call. Ringing is either
//   reported synchronously (DialResult.Ringing) or later through a callback.
type Trunk interface {
	Name() string
	Dial(ctx context.Context, req DialRequest) (DialResult, error)
}

type DialRequest struct {
	// CallID is the hub's call identifier; providers echo it in callbacks.
	CallID  string `json:"callId"`
	To      string `json:"to"`
	AgentID string `json:"agentId"`
}

type DialResult struct {
	ProviderCallID string `json:"providerCallId"`
	Ringing        bool   `json:"ringing"`
}

type EventType string

const (
	EventIncomingCall EventType = "incoming_call"
	EventCallRinging  EventType = "call_ringing"
	EventCallAnswered EventType = "call_answered"
	EventCallEnded    EventType = "call_ended"
)

func (t EventType) Valid() bool {
	switch t {
	case EventIncomingCall, EventCallRinging, EventCallAnswered, EventCallEnded:
		return true
	default:
		return false
	}
}

// TrunkEvent is a provider callback translated into hub terms.
type TrunkEvent struct {
	Type     EventType `json:"type"`
	CallID   string    `json:"callId"`
	Caller   string    `json:"caller,omitempty"`
	Trunk    string    `json:"trunk,omitempty"`
	AgentID  string    `json:"agentId,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Provider string    `json:"provider"`

	OccurredAt time.Time `json:"occurredAt"`
}

// Disposition reports what the hub did with an event.
type Disposition struct {
	// AgentID is set when an incoming call was offered to a specific session.
	AgentID  string
	Accepted bool
}

// EventSink consumes trunk callbacks. The hub implements it.
type EventSink interface {
	HandleTrunkEvent(ctx context.Context, ev TrunkEvent) (Disposition, error)
}
