package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SimulatedTrunk stands in for a SIP gateway: it accepts every dial and
// reports ringing after RingDelay, or gives up when ctx is cancelled first.
type SimulatedTrunk struct {
	RingDelay time.Duration
}

func (t SimulatedTrunk) Name() string { return "simulated" }

func (t SimulatedTrunk) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if strings.TrimSpace(req.To) == "" {
		return DialResult{}, fmt.Errorf("telephony: destination required")
	}
	if t.RingDelay > 0 {
		timer := time.NewTimer(t.RingDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return DialResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return DialResult{ProviderCallID: "sim-" + req.CallID, Ringing: true}, nil
}

// sipEventBody is the JSON posted by the SIP gateway to /sip/event.
type sipEventBody struct {
	Type     string  `json:"type"`
	CallID   string  `json:"callId"`
	Caller   string  `json:"caller"`
	Trunk    string  `json:"trunk"`
	AgentID  string  `json:"agentId"`
	Duration float64 `json:"duration"`
}

// ParseSIPEvent decodes a gateway callback. Unknown types yield ErrUnknownEvent
// so callers can acknowledge and ignore them.
func ParseSIPEvent(r *http.Request, now time.Time) (TrunkEvent, error) {
	var b sipEventBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		return TrunkEvent{}, fmt.Errorf("telephony: invalid sip event: %w", err)
	}
	ev := TrunkEvent{
		Type:       EventType(strings.TrimSpace(b.Type)),
		CallID:     strings.TrimSpace(b.CallID),
		Caller:     normalizePhone(b.Caller),
		Trunk:      strings.TrimSpace(b.Trunk),
		AgentID:    strings.TrimSpace(b.AgentID),
		Duration:   b.Duration,
		Provider:   "sip",
		OccurredAt: now,
	}
	if !ev.Type.Valid() {
		return ev, ErrUnknownEvent
	}
	if ev.CallID == "" {
		return ev, fmt.Errorf("telephony: callId required")
	}
	return ev, nil
}
