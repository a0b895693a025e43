package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mcp-hub/internal/auth"
)

// ErrChannelClosed is returned by channels that can no longer accept events.
var ErrChannelClosed = errors.New("registry: channel closed")

// Close reasons passed to Channel.Close.
const (
	ReasonReplaced = "replaced"
	ReasonLogout   = "logout"
	ReasonShutdown = "shutdown"
)

// Outbound is one event on its way to a session.
type Outbound struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel is the live transport behind a session.
// Deliver must not block on a slow peer.
type Channel interface {
	Deliver(Outbound) error
	Close(reason string)
}

type Session struct {
	Identity     auth.Identity
	Channel      Channel
	Capabilities []string
	ConnectedAt  time.Time
}

func (s Session) HasCapability(c string) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// SessionInfo is the channel-free view of a session.
type SessionInfo struct {
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Registry maps each identity to exactly one live channel.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session

	log *slog.Logger
	now func() time.Time
}

func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]Session),
		log:      log.With("component", "registry"),
		now:      time.Now,
	}
}

// Register stores s as the active session for its identity. A previous session
// for the same identity is returned and its channel closed with ReasonReplaced.
func (r *Registry) Register(s Session) *Session {
	if s.ConnectedAt.IsZero() {
		s.ConnectedAt = r.now().UTC()
	}
	s.Capabilities = append([]string(nil), s.Capabilities...)

	r.mu.Lock()
	prev, had := r.sessions[s.Identity.UserID]
	r.sessions[s.Identity.UserID] = s
	r.mu.Unlock()

	if !had {
		r.log.Info("session registered", "user_id", s.Identity.UserID, "capabilities", s.Capabilities)
		return nil
	}
	if prev.Channel != nil && prev.Channel != s.Channel {
		prev.Channel.Close(ReasonReplaced)
	}
	r.log.Info("session replaced", "user_id", s.Identity.UserID)
	return &prev
}

// Unregister drops the session for userID. No-op if absent.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	_, had := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if had {
		r.log.Info("session unregistered", "user_id", userID)
	}
}

// Evict drops the session for userID and closes its channel with reason.
func (r *Registry) Evict(userID, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if !ok {
		return false
	}
	if s.Channel != nil {
		s.Channel.Close(reason)
	}
	r.log.Info("session evicted", "user_id", userID, "reason", reason)
	return true
}

// UnregisterChannel drops the session only when ch is still its channel.
// A connection that was replaced must not remove its successor.
func (r *Registry) UnregisterChannel(userID string, ch Channel) bool {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if ok && s.Channel == ch {
		delete(r.sessions, userID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		r.log.Info("session unregistered", "user_id", userID)
	}
	return ok
}

// Send delivers an event to userID. It returns false when the user has no
// registered channel or the channel refused the event; offline is not an error.
func (r *Registry) Send(userID, event string, payload any) bool {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok || s.Channel == nil {
		return false
	}

	if err := s.Channel.Deliver(r.outbound(event, payload)); err != nil {
		r.log.Debug("delivery failed", "user_id", userID, "event", event, "error", err)
		return false
	}
	return true
}

// BroadcastToCapability delivers to every session declaring capability and
// returns how many accepted the event.
func (r *Registry) BroadcastToCapability(capability, event string, payload any) int {
	return r.fanOut(event, payload, func(s Session) bool { return s.HasCapability(capability) })
}

// Broadcast delivers to every registered session.
func (r *Registry) Broadcast(event string, payload any) int {
	return r.fanOut(event, payload, func(Session) bool { return true })
}

func (r *Registry) fanOut(event string, payload any, match func(Session) bool) int {
	r.mu.RLock()
	targets := make([]Channel, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Channel != nil && match(s) {
			targets = append(targets, s.Channel)
		}
	}
	r.mu.RUnlock()

	msg := r.outbound(event, payload)
	n := 0
	for _, ch := range targets {
		if err := ch.Deliver(msg); err == nil {
			n++
		}
	}
	return n
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	_, ok := r.sessions[userID]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot sorted by user id.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			UserID:       s.Identity.UserID,
			Name:         s.Identity.Name,
			Role:         s.Identity.Role,
			Capabilities: append([]string(nil), s.Capabilities...),
			ConnectedAt:  s.ConnectedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// CloseAll closes every channel and empties the registry.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range all {
		if s.Channel != nil {
			s.Channel.Close(reason)
		}
	}
}

func (r *Registry) outbound(event string, payload any) Outbound {
	return Outbound{Event: event, Data: payload, Timestamp: r.now().UTC()}
}
