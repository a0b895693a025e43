package audit

import "time"

// Event is an immutable, append-only record of an operator action against the hub.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; do not block admin flows on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// TargetUserID is the session the action applied to, when there is one.
	TargetUserID string `json:"target_user_id,omitempty" db:"target_user_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventSessionEvicted EventType = "session_evicted"
	EventBroadcast      EventType = "broadcast"
)
