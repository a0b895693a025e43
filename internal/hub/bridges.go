package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mcp-hub/internal/calls"
	"mcp-hub/internal/messaging"
	"mcp-hub/internal/store"
	"mcp-hub/internal/telephony"
)

var (
	_ telephony.EventSink   = (*Hub)(nil)
	_ messaging.InboundSink = (*Hub)(nil)
)

// SIPIncomingCall is sent to the offered agent, or broadcast when no agent took the call.
type SIPIncomingCall struct {
	CallID      string    `json:"callId"`
	TrunkCallID string    `json:"trunkCallId,omitempty"`
	Caller      string    `json:"caller"`
	Trunk       string    `json:"trunk,omitempty"`
	LeadID      string    `json:"leadId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type SIPCallAnswered struct {
	CallID    string    `json:"callId"`
	Timestamp time.Time `json:"timestamp"`
}

type SIPCallEnded struct {
	CallID    string    `json:"callId"`
	Duration  float64   `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// WhatsAppMessage is broadcast for every inbound provider message.
type WhatsAppMessage struct {
	From           string    `json:"from"`
	Name           string    `json:"name,omitempty"`
	Text           string    `json:"text"`
	LeadID         string    `json:"leadId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Provider       string    `json:"provider"`
	Timestamp      time.Time `json:"timestamp"`
}

const metaTrunkCallID = "trunkCallId"

// HandleTrunkEvent applies a provider callback to the engine holding the call.
func (h *Hub) HandleTrunkEvent(ctx context.Context, ev telephony.TrunkEvent) (telephony.Disposition, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = h.now()
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	log := h.log.With("trunk_event", ev.Type, "trunk_call_id", ev.CallID, "provider", ev.Provider)

	switch ev.Type {
	case telephony.EventIncomingCall:
		return h.incomingCall(ctx, ev)

	case telephony.EventCallRinging:
		if uid, line, ok := h.lineForCall(ev.CallID); ok {
			c, _ := line.engine.Current()
			h.reportRinging(log, uid, line, c.ID)
			return telephony.Disposition{AgentID: uid, Accepted: true}, nil
		}
		log.Debug("ringing for unknown call")
		return telephony.Disposition{}, nil

	case telephony.EventCallAnswered:
		var d telephony.Disposition
		callID := ev.CallID
		if uid, line, ok := h.lineForCall(ev.CallID); ok {
			c, _ := line.engine.Current()
			callID = c.ID
			if c.Status == calls.StatusRinging {
				if err := line.engine.AnswerCall(); err != nil {
					log.Warn("answer from trunk ignored", "error", err)
				}
			} else {
				h.persistStatus(log, callID, store.CallConnected, ev.OccurredAt)
			}
			d = telephony.Disposition{AgentID: uid, Accepted: true}
		}
		h.reg.Broadcast("mcp:sip:call_answered", SIPCallAnswered{CallID: callID, Timestamp: ev.OccurredAt})
		return d, nil

	case telephony.EventCallEnded:
		var d telephony.Disposition
		callID := ev.CallID
		if uid, line, ok := h.lineForCall(ev.CallID); ok {
			c, _ := line.engine.Current()
			callID = c.ID
			if c.Status.Active() {
				if _, err := line.engine.EndCall(); err != nil {
					log.Warn("end from trunk ignored", "error", err)
				}
			}
			d = telephony.Disposition{AgentID: uid, Accepted: true}
		} else {
			h.persistStatus(log, callID, store.CallEnded, ev.OccurredAt)
		}
		h.reg.Broadcast("mcp:sip:call_ended", SIPCallEnded{CallID: callID, Duration: ev.Duration, Timestamp: ev.OccurredAt})
		return d, nil

	default:
		return telephony.Disposition{}, fmt.Errorf("%w: %q", telephony.ErrUnknownEvent, ev.Type)
	}
}

// incomingCall offers the call to the named agent when that agent is online
// and idle. Otherwise every session is told about it and nobody owns it.
func (h *Hub) incomingCall(ctx context.Context, ev telephony.TrunkEvent) (telephony.Disposition, error) {
	if ev.AgentID != "" && h.reg.Online(ev.AgentID) {
		line := h.line(ev.AgentID)
		if line.engine.Status() == calls.StatusIdle {
			return h.offerToAgent(ctx, ev, line)
		}
		h.log.Info("agent busy, broadcasting incoming call", "agent_id", ev.AgentID, "status", line.engine.Status())
	}

	h.reg.Broadcast("mcp:sip:incoming_call", SIPIncomingCall{
		CallID:    ev.CallID,
		Caller:    ev.Caller,
		Trunk:     ev.Trunk,
		Timestamp: ev.OccurredAt,
	})
	return telephony.Disposition{}, nil
}

func (h *Hub) offerToAgent(ctx context.Context, ev telephony.TrunkEvent, line *agentLine) (telephony.Disposition, error) {
	var leadID, convID string
	if ev.Caller != "" {
		lead, err := h.store.FindLeadByPhone(ctx, ev.Caller)
		switch {
		case err == nil:
			leadID = lead.ID
		case errors.Is(err, store.ErrNotFound):
		default:
			return telephony.Disposition{}, fmt.Errorf("find lead: %w", err)
		}
	}

	rec, err := h.store.InsertCall(ctx, store.CallRecord{
		LeadID:      leadID,
		AgentID:     ev.AgentID,
		Direction:   string(calls.DirectionInbound),
		PhoneNumber: ev.Caller,
		Status:      store.CallInitiating,
		StartTime:   ev.OccurredAt,
	})
	if err != nil {
		return telephony.Disposition{}, fmt.Errorf("insert call: %w", err)
	}
	if leadID != "" {
		conv, err := store.FindOrCreateConversation(ctx, h.store, leadID, store.ChannelCall, ev.OccurredAt)
		if err == nil {
			err = h.store.LinkCallConversation(ctx, rec.ID, conv.ID)
		}
		if err != nil {
			h.persistStatus(h.log, rec.ID, store.CallEnded, h.now())
			return telephony.Disposition{}, fmt.Errorf("link conversation: %w", err)
		}
		convID = conv.ID
	}

	callID, err := line.engine.ReceiveCall(calls.InboundCall{
		CallID:         rec.ID,
		From:           ev.Caller,
		LeadID:         leadID,
		ConversationID: convID,
		Extra:          map[string]string{metaTrunkCallID: ev.CallID, "trunk": ev.Trunk},
	})
	if err != nil {
		h.persistStatus(h.log, rec.ID, store.CallEnded, h.now())
		return telephony.Disposition{}, err
	}

	h.send(ev.AgentID, "mcp:sip:incoming_call", SIPIncomingCall{
		CallID:      callID,
		TrunkCallID: ev.CallID,
		Caller:      ev.Caller,
		Trunk:       ev.Trunk,
		LeadID:      leadID,
		Timestamp:   ev.OccurredAt,
	})
	return telephony.Disposition{AgentID: ev.AgentID, Accepted: true}, nil
}

// HandleInboundMessage stores a provider message against the sender's lead
// and whatsapp conversation, then tells every session.
func (h *Hub) HandleInboundMessage(ctx context.Context, msg messaging.InboundMessage) error {
	if msg.From == "" || msg.Text == "" {
		return validation("inbound message without sender or text")
	}
	at := msg.ReceivedAt
	if at.IsZero() {
		at = h.now()
	}
	at = at.UTC()

	lead, err := store.FindOrCreateLead(ctx, h.store, msg.From, msg.Name, msg.Source, at)
	if err != nil {
		return fmt.Errorf("lead: %w", err)
	}
	conv, err := store.FindOrCreateConversation(ctx, h.store, lead.ID, store.ChannelWhatsApp, at)
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	if _, err := h.store.InsertMessage(ctx, store.Message{
		ConversationID: conv.ID,
		SenderType:     store.SenderLead,
		SenderID:       lead.ID,
		Content:        msg.Text,
		MessageType:    "text",
		ExternalID:     msg.ExternalID,
		CreatedAt:      at,
	}); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := h.store.TouchConversation(ctx, conv.ID, at); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	n := h.reg.Broadcast("mcp:whatsapp:message", WhatsAppMessage{
		From:           msg.From,
		Name:           msg.Name,
		Text:           msg.Text,
		LeadID:         lead.ID,
		ConversationID: conv.ID,
		MessageID:      msg.ExternalID,
		Provider:       msg.Provider,
		Timestamp:      at,
	})
	if n == 0 {
		h.metrics.DeliveryMissed("mcp:whatsapp:message")
	}
	h.log.Info("inbound message stored", "lead_id", lead.ID, "conversation_id", conv.ID, "provider", msg.Provider, "delivered", n)
	return nil
}
