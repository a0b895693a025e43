package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mcp-hub/internal/auth"
)

var ErrInvalidEvent = errors.New("audit: invalid event")

// Service records admin actions. Callers treat it as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAction fills actor and ip from ctx.
func (s *Service) LogAdminAction(ctx context.Context, typ EventType, targetUserID, message, metadata string) error {
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return s.Append(ctx, Event{
		Type:         typ,
		ActorUserID:  uid,
		ActorRole:    role,
		IPAddress:    ClientIPFromContext(ctx),
		TargetUserID: targetUserID,
		Message:      message,
		Metadata:     metadata,
	})
}

type clientIPKey struct{}

// WithClientIP attaches the resolved client IP. HTTP handlers set it from gin's ClientIP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	s, _ := ctx.Value(clientIPKey{}).(string)
	return s
}
