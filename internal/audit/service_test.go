package audit

import (
	"context"
	"testing"

	"mcp-hub/internal/auth"
)

var (
	_ Repository = (*MemoryRepo)(nil)
	_ Repository = (*PostgresRepo)(nil)
)

func TestService_AppendRequiresType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Append(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_LogAdminActionCapturesActor(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	ctx := auth.WithIdentity(context.Background(), auth.Identity{UserID: "root", Role: "admin"})
	ctx = WithClientIP(ctx, "10.0.0.7")
	if err := svc.LogAdminAction(ctx, EventSessionEvicted, "alice", "session evicted", `{"reason":"logout"}`); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	e := evs[0]
	if e.ActorUserID != "root" || e.ActorRole != "admin" || e.IPAddress != "10.0.0.7" || e.TargetUserID != "alice" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled")
	}
}

func TestWithClientIP_IgnoresEmpty(t *testing.T) {
	ctx := WithClientIP(context.Background(), "")
	if ClientIPFromContext(ctx) != "" {
		t.Fatalf("expected no ip")
	}
}
