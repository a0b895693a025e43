package clients

import (
	"context"
	"database/sql"
	"sort"
	"sync"
)

// Repository persists client registrations keyed by client id.
type Repository interface {
	Upsert(ctx context.Context, c Client) error
	ListActive(ctx context.Context) ([]Client, error)
}

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu      sync.Mutex
	clients map[string]Client
	// FailNext, when set, is returned by the next call and then cleared.
	FailNext error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{clients: make(map[string]Client)} }

func (r *MemoryRepo) Upsert(ctx context.Context, c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNext; err != nil {
		r.FailNext = nil
		return err
	}
	c.Features = nil
	c.OwnerID = ""
	r.clients[c.ID] = c
	return nil
}

func (r *MemoryRepo) ListActive(ctx context.Context) ([]Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailNext; err != nil {
		r.FailNext = nil
		return nil, err
	}
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Status == StatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PostgresRepo stores rows in mcp_clients (client_id PRIMARY KEY, client_name,
// client_type, status, last_seen, created_at).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Upsert(ctx context.Context, c Client) error {
	const q = `
INSERT INTO mcp_clients (client_id, client_name, client_type, status, last_seen)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (client_id) DO UPDATE
SET client_name = EXCLUDED.client_name,
    client_type = EXCLUDED.client_type,
    status = EXCLUDED.status,
    last_seen = EXCLUDED.last_seen
`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.Name, c.Type, c.Status, c.LastSeen)
	return err
}

func (r *PostgresRepo) ListActive(ctx context.Context) ([]Client, error) {
	const q = `
SELECT client_id, client_name, client_type, status, last_seen
FROM mcp_clients
WHERE status = 'active'
ORDER BY client_id
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var c Client
		var lastSeen sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &lastSeen); err != nil {
			return nil, err
		}
		c.LastSeen = lastSeen.Time
		out = append(out, c)
	}
	return out, rows.Err()
}
