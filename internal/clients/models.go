package clients

import "time"

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Client is an integration process (a bot, a WhatsApp bridge) announced to
// operator sessions. Features are advertised at registration and are not
// persisted.
type Client struct {
	ID       string    `json:"id" db:"client_id"`
	Name     string    `json:"name" db:"client_name"`
	Type     string    `json:"type" db:"client_type"`
	Status   string    `json:"status" db:"status"`
	Features []string  `json:"features"`
	LastSeen time.Time `json:"lastSeen" db:"last_seen"`
	// OwnerID is the identity that registered the client. Not persisted.
	OwnerID string `json:"-"`
}

// Registration is the body of POST /api/clients/register. Token must be
// present but is not stored.
type Registration struct {
	ClientID   string   `json:"clientId"`
	ClientName string   `json:"clientName"`
	ClientType string   `json:"clientType"`
	Token      string   `json:"token"`
	Features   []string `json:"features"`
	OwnerID    string   `json:"-"`
}

// Summary is what sessions see of a client.
type Summary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Features []string `json:"features"`
}

func (c Client) Summary() Summary {
	f := c.Features
	if f == nil {
		f = []string{}
	}
	return Summary{ID: c.ID, Name: c.Name, Type: c.Type, Features: f}
}
