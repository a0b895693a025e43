package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnsupportedProvider = errors.New("messaging: unsupported provider")
	ErrNotConfigured       = errors.New("messaging: provider not configured")
)

// Provider delivers a text message through a WhatsApp-style API.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg OutboundMessage) (SendResult, error)
}

type OutboundMessage struct {
	To      string
	Content string
	// Instance selects the Evolution API instance; ignored by the official API.
	Instance string
	SenderID string
}

type SendResult struct {
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
}

// Providers indexes the configured providers by name.
type Providers map[string]Provider

// DefaultProvider is used when a send request names none.
const DefaultProvider = "official"

func NewProviders(ps ...Provider) Providers {
	out := make(Providers, len(ps))
	for _, p := range ps {
		if p != nil {
			out[p.Name()] = p
		}
	}
	return out
}

func (ps Providers) Get(name string) (Provider, error) {
	if name == "" {
		name = DefaultProvider
	}
	p, ok := ps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	return p, nil
}

func (ps Providers) Names() []string {
	out := make([]string, 0, len(ps))
	for n := range ps {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
