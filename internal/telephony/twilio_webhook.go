package telephony

import (
	"net/http"
	"strings"
	"time"
)

// TwilioCallForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only.
type TwilioCallForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration string
	CallerName   string

	// HubCallID is our call id, echoed back through the status callback URL (?callId=).
	HubCallID string
	// AgentID is set on the voice URL for calls aimed at a specific agent (?agentId=).
	AgentID string
}

func ParseTwilioCall(r *http.Request) (TwilioCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallForm{}, err
	}
	q := r.URL.Query()
	f := TwilioCallForm{
		CallSid:      r.PostFormValue("CallSid"),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		CallDuration: r.PostFormValue("CallDuration"),
		CallerName:   r.PostFormValue("CallerName"),
		HubCallID:    strings.TrimSpace(q.Get("callId")),
		AgentID:      strings.TrimSpace(q.Get("agentId")),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// CallID prefers the hub id from the callback URL over the provider sid.
func (f TwilioCallForm) CallID() string {
	if f.HubCallID != "" {
		return f.HubCallID
	}
	return f.CallSid
}

// ToInboundEvent converts the voice webhook of a new inbound call.
func (f TwilioCallForm) ToInboundEvent(occurredAt time.Time) TrunkEvent {
	return TrunkEvent{
		Type:       EventIncomingCall,
		CallID:     f.CallID(),
		Caller:     f.From,
		Trunk:      f.To,
		AgentID:    f.AgentID,
		Provider:   "twilio",
		OccurredAt: occurredAt,
	}
}
