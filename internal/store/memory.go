package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Gateway useful for tests and local runs.
// It is not intended for production use.
type MemoryStore struct {
	mu            sync.Mutex
	leads         map[string]Lead
	conversations map[string]Conversation
	convOrder     []string
	messages      []Message
	calls         map[string]CallRecord

	// FailNext, when set, is returned (once) by the next write.
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:         make(map[string]Lead),
		conversations: make(map[string]Conversation),
		calls:         make(map[string]CallRecord),
	}
}

func (s *MemoryStore) failed() error {
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return err
	}
	return nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return Message{}, err
	}
	// Mirrors the messages.conversation_id foreign key.
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return Message{}, ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, m)
	return m, nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = at
	s.conversations[conversationID] = c
	return nil
}

func (s *MemoryStore) ActivateConversation(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Status = ConversationActive
	c.LastActivityAt = at
	s.conversations[conversationID] = c
	return nil
}

func (s *MemoryStore) LatestConversation(ctx context.Context, leadID, channel string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.convOrder) - 1; i >= 0; i-- {
		c := s.conversations[s.convOrder[i]]
		if c.LeadID == leadID && c.Channel == channel {
			return c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (s *MemoryStore) InsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return Conversation{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ConversationActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	s.conversations[c.ID] = c
	s.convOrder = append(s.convOrder, c.ID)
	return c, nil
}

func (s *MemoryStore) GetLead(ctx context.Context, leadID string) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) FindLeadByPhone(ctx context.Context, phone string) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.Phone != "" && l.Phone == phone {
			return l, nil
		}
	}
	return Lead{}, ErrNotFound
}

func (s *MemoryStore) InsertLead(ctx context.Context, l Lead) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return Lead{}, err
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	s.leads[l.ID] = l
	return l, nil
}

func (s *MemoryStore) InsertCall(ctx context.Context, c CallRecord) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return CallRecord{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, dup := s.calls[c.ID]; dup {
		return CallRecord{}, errors.New("store: duplicate call id")
	}
	if c.Status == "" {
		c.Status = CallInitiating
	}
	if c.StartTime.IsZero() {
		c.StartTime = time.Now().UTC()
	}
	c.Duration = nil
	s.calls[c.ID] = c
	return c, nil
}

func (s *MemoryStore) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	c, ok := s.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if !c.Status.Advances(status) {
		return ErrStaleStatus
	}
	c.Status = status
	switch status {
	case CallConnected:
		if c.AnsweredAt == nil {
			t := at
			c.AnsweredAt = &t
		}
	case CallEnded:
		t := at
		c.EndTime = &t
		d := at.Sub(c.StartTime).Seconds()
		if d < 0 {
			d = 0
		}
		c.Duration = &d
	}
	s.calls[callID] = c
	return nil
}

func (s *MemoryStore) LinkCallConversation(ctx context.Context, callID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failed(); err != nil {
		return err
	}
	c, ok := s.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.ConversationID = conversationID
	s.calls[callID] = c
	return nil
}

/* ===================== TEST HELPERS ===================== */

func (s *MemoryStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *MemoryStore) Calls() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	return out
}

func (s *MemoryStore) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	return c, ok
}

func (s *MemoryStore) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.convOrder))
	for _, id := range s.convOrder {
		out = append(out, s.conversations[id])
	}
	return out
}
