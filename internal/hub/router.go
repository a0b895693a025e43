package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mcp-hub/internal/auth"
	"mcp-hub/internal/messaging"
	"mcp-hub/internal/registry"
	"mcp-hub/internal/store"
)

// Envelope is one inbound frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Peer is the sender of an inbound frame. Replies go to its own channel so a
// replaced connection never answers on behalf of its successor.
type Peer struct {
	Identity auth.Identity
	Channel  registry.Channel
	Log      *slog.Logger
}

func (h *Hub) reply(p *Peer, event string, payload any) {
	if err := p.Channel.Deliver(registry.Outbound{Event: event, Data: payload, Timestamp: h.now().UTC()}); err != nil {
		p.Log.Debug("reply dropped", "event", event, "error", err)
	}
}

// ErrorPayload is the body of mcp:error.
type ErrorPayload struct {
	Message        string `json:"message"`
	OriginalType   string `json:"originalType,omitempty"`
	OriginalAction string `json:"originalAction,omitempty"`
}

// Dispatch routes one frame. Frames from a connection are dispatched in order
// by its read loop; Dispatch itself does not spawn work except the trunk dial.
func (h *Hub) Dispatch(ctx context.Context, p *Peer, env Envelope) {
	if p.Log == nil {
		p.Log = h.log.With("user_id", p.Identity.UserID)
	}
	h.metrics.EventRouted(env.Event)

	switch env.Event {
	case "mcp:message":
		h.handleMessage(ctx, p, env.Data)
	case "mcp:call":
		h.handleCall(ctx, p, env.Data)
	case "mcp:whatsapp:send":
		h.handleWhatsAppSend(ctx, p, env.Data)
	case "ping":
		h.reply(p, "pong", map[string]any{"timestamp": h.now().UTC()})
	default:
		p.Log.Warn("unknown event", "event", env.Event)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return validation("malformed payload")
	}
	return nil
}

/* ===================== mcp:message ===================== */

type messageFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	RecipientID    string `json:"recipientId"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	IsTyping       bool   `json:"isTyping"`
}

// MessageSent acknowledges a stored chat message.
type MessageSent struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageReceived is forwarded to an online recipient.
type MessageReceived struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Typing is forwarded to an online recipient and never stored.
type Typing struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	IsTyping       bool   `json:"isTyping"`
}

func (h *Hub) handleMessage(ctx context.Context, p *Peer, raw json.RawMessage) {
	var f messageFrame
	err := decode(raw, &f)
	if err == nil {
		switch f.Type {
		case "chat:message":
			err = h.chatMessage(ctx, p, f.Payload)
		case "chat:typing":
			err = h.chatTyping(p, f.Payload)
		default:
			p.Log.Warn("unknown message type", "type", f.Type)
			return
		}
	}
	if err == nil {
		return
	}

	kind := errorKind(err)
	h.metrics.EventFailed("mcp:message", kind)
	if kind == "internal" {
		p.Log.Error("message failed", "type", f.Type, "error", err)
	} else {
		p.Log.Warn("message rejected", "type", f.Type, "error", err)
	}
	h.reply(p, "mcp:error", ErrorPayload{
		Message:      "Error processing message: " + clientMessage(err, "failed to process message"),
		OriginalType: f.Type,
	})
}

func (h *Hub) chatMessage(ctx context.Context, p *Peer, raw json.RawMessage) error {
	var in chatMessagePayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	if in.ConversationID == "" || in.Message == "" {
		return validation("missing required fields (conversationId, message)")
	}

	now := h.now().UTC()
	msg, err := h.store.InsertMessage(ctx, store.Message{
		ConversationID: in.ConversationID,
		SenderType:     store.SenderAgent,
		SenderID:       p.Identity.UserID,
		Content:        in.Message,
		MessageType:    "text",
		CreatedAt:      now,
	})
	if err != nil {
		return conversationError(err, in.ConversationID)
	}
	if err := h.store.TouchConversation(ctx, in.ConversationID, now); err != nil {
		return conversationError(err, in.ConversationID)
	}

	h.reply(p, "mcp:message:sent", MessageSent{
		MessageID:      msg.ID,
		ConversationID: in.ConversationID,
		Timestamp:      msg.CreatedAt,
	})

	if in.RecipientID != "" {
		h.send(in.RecipientID, "mcp:message:received", MessageReceived{
			MessageID:      msg.ID,
			ConversationID: in.ConversationID,
			SenderID:       p.Identity.UserID,
			SenderName:     p.Identity.Name,
			Content:        in.Message,
			Timestamp:      msg.CreatedAt,
		})
	}
	return nil
}

// conversationError reports a missing conversation to the sender and passes
// other store failures through.
func conversationError(err error, conversationID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError{What: "conversation", ID: conversationID}
	}
	return err
}

func (h *Hub) chatTyping(p *Peer, raw json.RawMessage) error {
	var in typingPayload
	if err := decode(raw, &in); err != nil {
		return err
	}
	if in.ConversationID == "" || in.RecipientID == "" {
		return validation("missing required fields (conversationId, recipientId)")
	}
	h.send(in.RecipientID, "mcp:typing", Typing{
		ConversationID: in.ConversationID,
		SenderID:       p.Identity.UserID,
		IsTyping:       in.IsTyping,
	})
	return nil
}

/* ===================== mcp:whatsapp:send ===================== */

type whatsAppSendPayload struct {
	To             string `json:"to"`
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	Provider       string `json:"provider"`
	Instance       string `json:"instance"`
}

// WhatsAppSent acknowledges a provider send. MessageID is set only when the
// message was stored against a conversation.
type WhatsAppSent struct {
	MessageID      string    `json:"messageId,omitempty"`
	ExternalID     string    `json:"externalId"`
	ConversationID string    `json:"conversationId,omitempty"`
	To             string    `json:"to"`
	Timestamp      time.Time `json:"timestamp"`
}

type WhatsAppError struct {
	Error        string          `json:"error"`
	OriginalData json.RawMessage `json:"originalData,omitempty"`
}

const sendTimeout = 15 * time.Second

func (h *Hub) handleWhatsAppSend(ctx context.Context, p *Peer, raw json.RawMessage) {
	sent, err := h.whatsAppSend(ctx, p, raw)
	if err == nil {
		h.reply(p, "mcp:whatsapp:sent", sent)
		return
	}

	kind := errorKind(err)
	h.metrics.EventFailed("mcp:whatsapp:send", kind)
	p.Log.Warn("whatsapp send failed", "error", err)
	msg := err.Error()
	if kind == "internal" && !isProviderError(err) {
		msg = "failed to send message"
	}
	h.reply(p, "mcp:whatsapp:error", WhatsAppError{Error: msg, OriginalData: raw})
}

func (h *Hub) whatsAppSend(ctx context.Context, p *Peer, raw json.RawMessage) (WhatsAppSent, error) {
	var in whatsAppSendPayload
	if err := decode(raw, &in); err != nil {
		return WhatsAppSent{}, err
	}
	if in.To == "" || in.Content == "" {
		return WhatsAppSent{}, validation("missing required fields (to, content)")
	}
	if in.Instance == "" {
		in.Instance = "default"
	}

	prov, err := h.providers.Get(in.Provider)
	if err != nil {
		return WhatsAppSent{}, providerError{err}
	}

	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	res, err := prov.Send(sctx, messaging.OutboundMessage{
		To:       in.To,
		Content:  in.Content,
		Instance: in.Instance,
		SenderID: p.Identity.UserID,
	})
	cancel()
	if err != nil {
		return WhatsAppSent{}, providerError{err}
	}

	now := h.now().UTC()
	out := WhatsAppSent{ExternalID: res.ExternalID, To: in.To, Timestamp: now}
	if in.ConversationID == "" {
		return out, nil
	}

	msg, err := h.store.InsertMessage(ctx, store.Message{
		ConversationID: in.ConversationID,
		SenderType:     store.SenderAgent,
		SenderID:       p.Identity.UserID,
		Content:        in.Content,
		MessageType:    "text",
		ExternalID:     res.ExternalID,
		CreatedAt:      now,
	})
	if err != nil {
		return WhatsAppSent{}, conversationError(err, in.ConversationID)
	}
	if err := h.store.TouchConversation(ctx, in.ConversationID, now); err != nil {
		return WhatsAppSent{}, conversationError(err, in.ConversationID)
	}
	out.MessageID = msg.ID
	out.ConversationID = in.ConversationID
	out.Timestamp = msg.CreatedAt
	return out, nil
}

// providerError marks failures whose message is safe to show the sender.
type providerError struct{ err error }

func (e providerError) Error() string { return e.err.Error() }
func (e providerError) Unwrap() error { return e.err }

func isProviderError(err error) bool {
	var pe providerError
	return errors.As(err, &pe)
}
