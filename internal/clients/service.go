package clients

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrInvalidRegistration = errors.New("clients: missing required fields")

// Directory keeps the registered clients in memory, backed by a Repository.
type Directory struct {
	repo  Repository
	clock func() time.Time

	mu      sync.RWMutex
	clients map[string]Client
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo, clock: time.Now, clients: make(map[string]Client)}
}

// Load seeds the directory with the repository's active clients.
func (d *Directory) Load(ctx context.Context) (int, error) {
	rows, err := d.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range rows {
		if _, ok := d.clients[c.ID]; !ok {
			d.clients[c.ID] = c
		}
	}
	return len(rows), nil
}

// Register upserts a client as active. A re-registration replaces the
// previous name, type and features.
func (d *Directory) Register(ctx context.Context, r Registration) (Client, error) {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.ClientName = strings.TrimSpace(r.ClientName)
	r.ClientType = strings.TrimSpace(r.ClientType)
	if r.ClientID == "" || r.ClientName == "" || r.ClientType == "" || r.Token == "" {
		return Client{}, ErrInvalidRegistration
	}

	features := make([]string, 0, len(r.Features))
	for _, f := range r.Features {
		if f = strings.TrimSpace(f); f != "" {
			features = append(features, f)
		}
	}
	c := Client{
		ID:       r.ClientID,
		Name:     r.ClientName,
		Type:     r.ClientType,
		Status:   StatusActive,
		Features: features,
		LastSeen: d.clock().UTC(),
		OwnerID:  r.OwnerID,
	}
	if err := d.repo.Upsert(ctx, c); err != nil {
		return Client{}, err
	}

	d.mu.Lock()
	d.clients[c.ID] = c
	d.mu.Unlock()
	return c, nil
}

// Active returns active clients ordered by id.
func (d *Directory) Active() []Client {
	d.mu.RLock()
	out := make([]Client, 0, len(d.clients))
	for _, c := range d.clients {
		if c.Status == StatusActive {
			c.Features = append([]string(nil), c.Features...)
			out = append(out, c)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FeaturesFor merges the features of the active clients registered by ownerID,
// in first-seen order.
func (d *Directory) FeaturesFor(ownerID string) []string {
	if ownerID == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, c := range d.Active() {
		if c.OwnerID != ownerID {
			continue
		}
		for _, f := range c.Features {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}

