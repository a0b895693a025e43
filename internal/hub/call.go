package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mcp-hub/internal/calls"
	"mcp-hub/internal/store"
	"mcp-hub/internal/telephony"
)

type callFrame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type initiatePayload struct {
	LeadID      string `json:"leadId"`
	PhoneNumber string `json:"phoneNumber"`
}

type callControlPayload struct {
	CallID string `json:"callId"`
	On     *bool  `json:"on"`
	Target string `json:"target"`
}

// CallInitiating is sent to the caller once the call row exists and the engine is calling.
type CallInitiating struct {
	CallID         string `json:"callId"`
	LeadID         string `json:"leadId,omitempty"`
	LeadName       string `json:"leadName"`
	PhoneNumber    string `json:"phoneNumber"`
	ConversationID string `json:"conversationId,omitempty"`
}

// CallRinging is sent when the trunk reports the far end ringing.
type CallRinging struct {
	CallID      string `json:"callId"`
	LeadID      string `json:"leadId,omitempty"`
	LeadName    string `json:"leadName"`
	PhoneNumber string `json:"phoneNumber"`
}

// CallRecording acknowledges a record:start or record:stop action.
type CallRecording struct {
	CallID    string          `json:"callId"`
	Recording calls.Recording `json:"recording"`
}

const metaLeadName = "leadName"

func (h *Hub) handleCall(ctx context.Context, p *Peer, raw json.RawMessage) {
	var f callFrame
	err := decode(raw, &f)
	if err == nil {
		switch f.Action {
		case "initiate":
			err = h.initiateCall(ctx, p, f.Payload)
		case "answer", "end", "hold", "transfer":
			err = h.controlCall(p, f.Action, f.Payload)
		case "record:start", "record:stop":
			err = h.controlRecording(p, f.Action, f.Payload)
		default:
			p.Log.Warn("unknown call action", "action", f.Action)
			return
		}
	}
	if err == nil {
		return
	}

	kind := errorKind(err)
	h.metrics.EventFailed("mcp:call", kind)
	if kind == "internal" {
		p.Log.Error("call event failed", "action", f.Action, "error", err)
	} else {
		p.Log.Warn("call event rejected", "action", f.Action, "error", err)
	}
	h.reply(p, "mcp:error", ErrorPayload{
		Message:        "Error processing call event: " + clientMessage(err, "failed to initiate call"),
		OriginalAction: f.Action,
	})
}

func (h *Hub) initiateCall(ctx context.Context, p *Peer, raw json.RawMessage) error {
	var in initiatePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	in.LeadID = strings.TrimSpace(in.LeadID)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if in.LeadID == "" && in.PhoneNumber == "" {
		return validation("missing required fields (either leadId or phoneNumber)")
	}

	phone, name := in.PhoneNumber, "Unknown"
	if in.LeadID != "" {
		lead, err := h.store.GetLead(ctx, in.LeadID)
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError{What: "lead", ID: in.LeadID}
		}
		if err != nil {
			return fmt.Errorf("get lead: %w", err)
		}
		if lead.Phone == "" {
			return validation("lead has no phone number")
		}
		phone, name = lead.Phone, lead.Name
	}

	line := h.line(p.Identity.UserID)
	if st := line.engine.Status(); st != calls.StatusIdle {
		return fmt.Errorf("%w: a call is already %s", calls.ErrStateConflict, st)
	}

	now := h.now().UTC()
	rec, err := h.store.InsertCall(ctx, store.CallRecord{
		LeadID:      in.LeadID,
		AgentID:     p.Identity.UserID,
		Direction:   string(calls.DirectionOutbound),
		PhoneNumber: phone,
		Status:      store.CallInitiating,
		StartTime:   now,
	})
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	var convID string
	if in.LeadID != "" {
		conv, err := store.FindOrCreateConversation(ctx, h.store, in.LeadID, store.ChannelCall, now)
		if err == nil {
			err = h.store.LinkCallConversation(ctx, rec.ID, conv.ID)
		}
		if err != nil {
			// The row is already written; end it rather than leave it initiating.
			h.persistStatus(p.Log, rec.ID, store.CallEnded, h.now())
			return fmt.Errorf("link conversation: %w", err)
		}
		convID = conv.ID
	}

	callID, err := line.engine.PlaceCall(phone, calls.Metadata{
		CallID:         rec.ID,
		LeadID:         in.LeadID,
		ConversationID: convID,
		Extra:          map[string]string{metaLeadName: name},
	})
	if err != nil {
		// Lost a race with another initiate or an inbound offer; close the orphan row.
		h.persistStatus(p.Log, rec.ID, store.CallEnded, h.now())
		return err
	}

	h.reply(p, "mcp:call:initiating", CallInitiating{
		CallID:         callID,
		LeadID:         in.LeadID,
		LeadName:       name,
		PhoneNumber:    phone,
		ConversationID: convID,
	})

	h.dial(p.Identity.UserID, line, callID, phone)
	return nil
}

// dial hands the call to the trunk without blocking the read loop. Ending the
// call cancels the dial; a ringing report that arrives afterwards is dropped.
func (h *Hub) dial(userID string, line *agentLine, callID, phone string) {
	if h.trunk == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	line.startDial(callID, cancel)
	log := h.log.With("user_id", userID, "call_id", callID, "trunk", h.trunk.Name())

	go func() {
		defer cancel()
		defer line.finishDial(callID)

		res, err := h.trunk.Dial(ctx, telephony.DialRequest{CallID: callID, To: phone, AgentID: userID})
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("dial cancelled")
				return
			}
			log.Warn("dial failed", "error", err)
			return
		}
		line.setProviderCallID(callID, res.ProviderCallID)
		if res.Ringing {
			h.reportRinging(log, userID, line, callID)
		}
	}()
}

// reportRinging advances an outbound call row to ringing while the engine is
// still calling on that call.
func (h *Hub) reportRinging(log *slog.Logger, userID string, line *agentLine, callID string) bool {
	c, ok := line.engine.Current()
	if !ok || c.ID != callID || c.Status != calls.StatusCalling {
		log.Debug("ringing report discarded", "call_id", callID)
		return false
	}
	h.persistStatus(log, callID, store.CallRinging, h.now())
	h.send(userID, "mcp:call:ringing", CallRinging{
		CallID:      callID,
		LeadID:      c.LeadID,
		LeadName:    c.Metadata[metaLeadName],
		PhoneNumber: c.PhoneNumber,
	})
	return true
}

// controlCall applies answer/end/hold/transfer to the sender's engine. Actions
// that do not fit the current state are logged and ignored.
func (h *Hub) controlCall(p *Peer, action string, raw json.RawMessage) error {
	var in callControlPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if action == "transfer" && strings.TrimSpace(in.Target) == "" {
		return validation("missing required field (target)")
	}

	line, ok := h.existingLine(p.Identity.UserID)
	if !ok {
		p.Log.Warn("call action without a call", "action", action)
		return nil
	}
	if in.CallID != "" {
		if c, ok := line.engine.Current(); !ok || c.ID != in.CallID {
			p.Log.Warn("call action for a call that is not current", "action", action, "call_id", in.CallID)
			return nil
		}
	}

	var err error
	switch action {
	case "answer":
		err = line.engine.AnswerCall()
	case "end":
		_, err = line.engine.EndCall()
	case "hold":
		on := true
		if in.On != nil {
			on = *in.On
		}
		err = line.engine.Hold(on)
	case "transfer":
		err = line.engine.Transfer(in.Target)
	}
	if errors.Is(err, calls.ErrStateConflict) {
		p.Log.Warn("call action ignored", "action", action, "status", line.engine.Status(), "error", err)
		return nil
	}
	return err
}

// controlRecording starts or stops the recording on the sender's current call.
// Unlike controlCall, a refused action is reported back to the sender.
func (h *Hub) controlRecording(p *Peer, action string, raw json.RawMessage) error {
	var in callControlPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	line, ok := h.existingLine(p.Identity.UserID)
	if !ok {
		return fmt.Errorf("%w: no call", calls.ErrStateConflict)
	}
	c, ok := line.engine.Current()
	if !ok || (in.CallID != "" && c.ID != in.CallID) {
		return fmt.Errorf("%w: call is not current", calls.ErrStateConflict)
	}

	var (
		rec calls.Recording
		err error
	)
	if action == "record:start" {
		rec, err = line.engine.StartRecording()
	} else {
		rec, err = line.engine.StopRecording()
	}
	if err != nil {
		return err
	}
	h.reply(p, "mcp:call:recording", CallRecording{CallID: c.ID, Recording: rec})
	return nil
}
