package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrStaleStatus is returned when a call row update would move its status backward.
	ErrStaleStatus = errors.New("store: stale call status")
)

// Gateway is the persistence surface the hub needs. Every method is a single
// statement; callers do not get cross-statement transactions.
type Gateway interface {
	InsertMessage(ctx context.Context, m Message) (Message, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	InsertCall(ctx context.Context, c CallRecord) (CallRecord, error)
	GetCall(ctx context.Context, callID string) (CallRecord, error)
	UpdateCallStatus(ctx context.Context, callID string, status CallStatus, at time.Time) error
	LinkCallConversation(ctx context.Context, callID, conversationID string) error

	GetLead(ctx context.Context, leadID string) (Lead, error)
	FindLeadByPhone(ctx context.Context, phone string) (Lead, error)
	InsertLead(ctx context.Context, l Lead) (Lead, error)

	LatestConversation(ctx context.Context, leadID, channel string) (Conversation, error)
	InsertConversation(ctx context.Context, c Conversation) (Conversation, error)
	ActivateConversation(ctx context.Context, conversationID string, at time.Time) error
}

// FindOrCreateConversation reuses the most recent conversation for (lead, channel),
// re-activating it, or creates one. Lookup and insert are independent statements;
// two concurrent callers may both insert, and the later one wins future lookups.
func FindOrCreateConversation(ctx context.Context, g Gateway, leadID, channel string, now time.Time) (Conversation, error) {
	conv, err := g.LatestConversation(ctx, leadID, channel)
	switch {
	case err == nil:
		if err := g.ActivateConversation(ctx, conv.ID, now); err != nil {
			return Conversation{}, err
		}
		conv.Status = ConversationActive
		conv.LastActivityAt = now
		return conv, nil
	case errors.Is(err, ErrNotFound):
		return g.InsertConversation(ctx, Conversation{
			LeadID:         leadID,
			Channel:        channel,
			Status:         ConversationActive,
			LastActivityAt: now,
			CreatedAt:      now,
		})
	default:
		return Conversation{}, err
	}
}

// FindOrCreateLead resolves a lead by phone, creating one tagged with source when absent.
func FindOrCreateLead(ctx context.Context, g Gateway, phone, name, source string, now time.Time) (Lead, error) {
	l, err := g.FindLeadByPhone(ctx, phone)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Lead{}, err
	}
	if name == "" {
		name = phone
	}
	return g.InsertLead(ctx, Lead{
		Name:      name,
		Phone:     phone,
		Source:    source,
		Status:    "new",
		CreatedAt: now,
	})
}
