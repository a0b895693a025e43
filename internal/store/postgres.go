package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgForeignKeyViolation is SQLSTATE foreign_key_violation.
const pgForeignKeyViolation = "23503"

// NOTE: Postgres assumes the following tables exist:
// - leads (id, name, phone, source, status, created_at)
// - conversations (id, lead_id, channel, status, last_activity_at, created_at)
// - messages (id, conversation_id REFERENCES conversations, sender_type, sender_id, content, message_type, external_id, created_at), append-only
// - calls (id, lead_id, conversation_id, agent_id, direction, phone_number, status,
//   start_time, answered_at, end_time, duration, updated_at)
//
// calls.duration is written only by UpdateCallStatus, in the same statement as end_time.

// Postgres implements Gateway over database/sql with the pgx stdlib driver.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

func (p *Postgres) InsertMessage(ctx context.Context, m Message) (Message, error) {
	const q = `
INSERT INTO messages (id, conversation_id, sender_type, sender_id, content, message_type, external_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
`
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MessageType == "" {
		m.MessageType = "text"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = p.now().UTC()
	}
	_, err := p.db.ExecContext(ctx, q,
		m.ID,
		m.ConversationID,
		m.SenderType,
		m.SenderID,
		m.Content,
		m.MessageType,
		m.ExternalID,
		m.CreatedAt,
	)
	if isForeignKeyViolation(err) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (p *Postgres) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	const q = `
UPDATE conversations
SET last_activity_at = $2
WHERE id = $1
`
	return p.execOne(ctx, q, conversationID, at)
}

func (p *Postgres) ActivateConversation(ctx context.Context, conversationID string, at time.Time) error {
	const q = `
UPDATE conversations
SET status = 'active', last_activity_at = $2
WHERE id = $1
`
	return p.execOne(ctx, q, conversationID, at)
}

func (p *Postgres) LatestConversation(ctx context.Context, leadID, channel string) (Conversation, error) {
	const q = `
SELECT id, lead_id, channel, status, last_activity_at, created_at
FROM conversations
WHERE lead_id = $1 AND channel = $2
ORDER BY created_at DESC
LIMIT 1
`
	var c Conversation
	if err := p.db.QueryRowContext(ctx, q, leadID, channel).Scan(
		&c.ID,
		&c.LeadID,
		&c.Channel,
		&c.Status,
		&c.LastActivityAt,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	return c, nil
}

func (p *Postgres) InsertConversation(ctx context.Context, c Conversation) (Conversation, error) {
	const q = `
INSERT INTO conversations (id, lead_id, channel, status, last_activity_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ConversationActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = p.now().UTC()
	}
	if c.LastActivityAt.IsZero() {
		c.LastActivityAt = c.CreatedAt
	}
	if _, err := p.db.ExecContext(ctx, q, c.ID, c.LeadID, c.Channel, c.Status, c.LastActivityAt, c.CreatedAt); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (p *Postgres) GetLead(ctx context.Context, leadID string) (Lead, error) {
	const q = `
SELECT id, name, COALESCE(phone, ''), COALESCE(source, ''), COALESCE(status, ''), created_at
FROM leads
WHERE id = $1
`
	return p.scanLead(p.db.QueryRowContext(ctx, q, leadID))
}

func (p *Postgres) FindLeadByPhone(ctx context.Context, phone string) (Lead, error) {
	const q = `
SELECT id, name, COALESCE(phone, ''), COALESCE(source, ''), COALESCE(status, ''), created_at
FROM leads
WHERE phone = $1
ORDER BY created_at DESC
LIMIT 1
`
	return p.scanLead(p.db.QueryRowContext(ctx, q, phone))
}

func (p *Postgres) InsertLead(ctx context.Context, l Lead) (Lead, error) {
	const q = `
INSERT INTO leads (id, name, phone, source, status, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
`
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = p.now().UTC()
	}
	if _, err := p.db.ExecContext(ctx, q, l.ID, l.Name, l.Phone, l.Source, l.Status, l.CreatedAt); err != nil {
		return Lead{}, err
	}
	return l, nil
}

func (p *Postgres) InsertCall(ctx context.Context, c CallRecord) (CallRecord, error) {
	const q = `
INSERT INTO calls (id, lead_id, conversation_id, agent_id, direction, phone_number, status, start_time, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $8)
`
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallInitiating
	}
	if c.StartTime.IsZero() {
		c.StartTime = p.now().UTC()
	}
	c.Duration = nil
	_, err := p.db.ExecContext(ctx, q,
		c.ID,
		c.LeadID,
		c.ConversationID,
		c.AgentID,
		c.Direction,
		c.PhoneNumber,
		string(c.Status),
		c.StartTime,
	)
	if err != nil {
		return CallRecord{}, err
	}
	return c, nil
}

func (p *Postgres) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	const q = `
SELECT id, COALESCE(lead_id::text, ''), COALESCE(conversation_id::text, ''), agent_id, direction,
       phone_number, status, start_time, answered_at, end_time, duration
FROM calls
WHERE id = $1
`
	var (
		c        CallRecord
		status   string
		answered sql.NullTime
		ended    sql.NullTime
		duration sql.NullFloat64
	)
	if err := p.db.QueryRowContext(ctx, q, callID).Scan(
		&c.ID,
		&c.LeadID,
		&c.ConversationID,
		&c.AgentID,
		&c.Direction,
		&c.PhoneNumber,
		&status,
		&c.StartTime,
		&answered,
		&ended,
		&duration,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	c.Status = CallStatus(status)
	if answered.Valid {
		t := answered.Time
		c.AnsweredAt = &t
	}
	if ended.Valid {
		t := ended.Time
		c.EndTime = &t
	}
	if duration.Valid {
		d := duration.Float64
		c.Duration = &d
	}
	return c, nil
}

// UpdateCallStatus advances the row. Ending a call sets end_time and derives
// duration from start_time in the same statement.
func (p *Postgres) UpdateCallStatus(ctx context.Context, callID string, status CallStatus, at time.Time) error {
	const q = `
UPDATE calls
SET status = $2::text,
    answered_at = CASE WHEN $2::text = 'connected' AND answered_at IS NULL THEN $3::timestamptz ELSE answered_at END,
    end_time = CASE WHEN $2::text = 'ended' THEN $3::timestamptz ELSE end_time END,
    duration = CASE WHEN $2::text = 'ended' THEN GREATEST(EXTRACT(EPOCH FROM ($3::timestamptz - start_time)), 0) ELSE duration END,
    updated_at = $3::timestamptz
WHERE id = $1
  AND $4 > CASE status
        WHEN 'initiating' THEN 1
        WHEN 'ringing' THEN 2
        WHEN 'connected' THEN 3
        WHEN 'ended' THEN 4
        ELSE 0
      END
`
	res, err := p.db.ExecContext(ctx, q, callID, string(status), at, status.rank())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := p.GetCall(ctx, callID); err != nil {
		return err
	}
	return ErrStaleStatus
}

func (p *Postgres) LinkCallConversation(ctx context.Context, callID, conversationID string) error {
	const q = `
UPDATE calls
SET conversation_id = $2, updated_at = $3
WHERE id = $1
`
	return p.execOne(ctx, q, callID, conversationID, p.now().UTC())
}

func (p *Postgres) scanLead(row *sql.Row) (Lead, error) {
	var l Lead
	if err := row.Scan(&l.ID, &l.Name, &l.Phone, &l.Source, &l.Status, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	return l, nil
}

func (p *Postgres) execOne(ctx context.Context, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
