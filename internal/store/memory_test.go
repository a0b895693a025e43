package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Gateway = (*MemoryStore)(nil)
var _ Gateway = (*Postgres)(nil)

func TestFindOrCreateConversation_ReusesMostRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()

	first, err := FindOrCreateConversation(ctx, s, "lead-1", ChannelCall, t0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.TouchConversation(ctx, first.ID, t0)
	// an inactive conversation should be re-activated on reuse
	s.conversations[first.ID] = Conversation{ID: first.ID, LeadID: "lead-1", Channel: ChannelCall, Status: ConversationInactive, CreatedAt: t0}

	again, err := FindOrCreateConversation(ctx, s, "lead-1", ChannelCall, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected reuse of %s, got %s", first.ID, again.ID)
	}
	got, _ := s.Conversation(first.ID)
	if got.Status != ConversationActive || !got.LastActivityAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected reactivated conversation, got %+v", got)
	}

	other, _ := FindOrCreateConversation(ctx, s, "lead-1", ChannelWhatsApp, t0)
	if other.ID == first.ID {
		t.Fatalf("channels must not share conversations")
	}
}

func TestUpdateCallStatus_ForwardOnlyAndDerivedDuration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Unix(1700000000, 0).UTC()

	c, err := s.InsertCall(ctx, CallRecord{AgentID: "u1", PhoneNumber: "1", StartTime: t0})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if c.Status != CallInitiating {
		t.Fatalf("expected initiating default, got %s", c.Status)
	}

	if err := s.UpdateCallStatus(ctx, c.ID, CallConnected, t0.Add(2*time.Second)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.UpdateCallStatus(ctx, c.ID, CallRinging, t0.Add(3*time.Second)); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected stale status, got %v", err)
	}
	if err := s.UpdateCallStatus(ctx, c.ID, CallEnded, t0.Add(12*time.Second)); err != nil {
		t.Fatalf("end: %v", err)
	}

	got, _ := s.GetCall(ctx, c.ID)
	if got.Status != CallEnded || got.Duration == nil || *got.Duration != 12 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if err := s.UpdateCallStatus(ctx, "missing", CallEnded, t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindOrCreateLead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	l, err := FindOrCreateLead(ctx, s, "5511", "", "whatsapp", time.Now())
	if err != nil || l.Name != "5511" || l.Source != "whatsapp" {
		t.Fatalf("unexpected lead %+v err=%v", l, err)
	}
	again, _ := FindOrCreateLead(ctx, s, "5511", "Other", "whatsapp", time.Now())
	if again.ID != l.ID {
		t.Fatalf("expected existing lead to be reused")
	}
}

func TestFailNext(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, err := s.InsertConversation(ctx, Conversation{LeadID: "l1", Channel: ChannelWhatsApp})
	if err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	boom := errors.New("boom")
	s.FailNext = boom
	if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := s.InsertMessage(ctx, Message{ConversationID: c.ID}); err != nil {
		t.Fatalf("failure should apply once, got %v", err)
	}
}

func TestInsertMessage_UnknownConversation(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.InsertMessage(context.Background(), Message{ConversationID: "missing", Content: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("nothing may be stored for an unknown conversation")
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !isForeignKeyViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"})) {
		t.Fatalf("expected wrapped 23503 to be detected")
	}
	if isForeignKeyViolation(&pgconn.PgError{Code: "23505"}) || isForeignKeyViolation(errors.New("x")) {
		t.Fatalf("only foreign key violations qualify")
	}
}
