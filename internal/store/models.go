package store

import "time"

type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversation channels.
const (
	ChannelCall     = "call"
	ChannelChat     = "chat"
	ChannelWhatsApp = "whatsapp"
)

const (
	ConversationActive   = "active"
	ConversationInactive = "inactive"
)

type Conversation struct {
	ID             string    `json:"id"`
	LeadID         string    `json:"leadId"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Sender types.
const (
	SenderAgent = "agent"
	SenderLead  = "lead"
)

// Message rows are append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderType     string    `json:"senderType"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	ExternalID     string    `json:"externalId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CallStatus is the persisted call row status. It only moves forward.
type CallStatus string

const (
	CallInitiating CallStatus = "initiating"
	CallRinging    CallStatus = "ringing"
	CallConnected  CallStatus = "connected"
	CallEnded      CallStatus = "ended"
)

func (s CallStatus) rank() int {
	switch s {
	case CallInitiating:
		return 1
	case CallRinging:
		return 2
	case CallConnected:
		return 3
	case CallEnded:
		return 4
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a forward transition.
func (s CallStatus) Advances(next CallStatus) bool {
	return next.rank() > s.rank()
}

// CallRecord is the persisted counterpart of calls.Call.
// Duration is derived from StartTime and EndTime by the gateway, never written by callers.
type CallRecord struct {
	ID             string     `json:"id"`
	LeadID         string     `json:"leadId,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	AgentID        string     `json:"agentId"`
	Direction      string     `json:"direction"`
	PhoneNumber    string     `json:"phoneNumber"`
	Status         CallStatus `json:"status"`
	StartTime      time.Time  `json:"startTime"`
	AnsweredAt     *time.Time `json:"answeredAt,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Duration       *float64   `json:"duration,omitempty"`
}
