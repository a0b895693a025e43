package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Lead sources recorded for leads first seen through a webhook.
const (
	SourceOfficial  = "whatsapp"
	SourceEvolution = "whatsapp_evolution"
)

// InboundMessage is a text message received from a provider webhook.
type InboundMessage struct {
	From       string
	Name       string
	Text       string
	ExternalID string
	Provider   string
	Source     string
	ReceivedAt time.Time
}

// InboundSink consumes provider messages. The hub implements it.
type InboundSink interface {
	HandleInboundMessage(ctx context.Context, msg InboundMessage) error
}

type officialWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseOfficialWebhook extracts text messages from a Cloud API notification.
// Non-message notifications (statuses, other objects) yield no messages.
func ParseOfficialWebhook(body []byte, now time.Time) ([]InboundMessage, error) {
	var w officialWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("messaging: invalid official webhook: %w", err)
	}
	if w.Object != "whatsapp_business_account" {
		return nil, nil
	}

	var out []InboundMessage
	for _, e := range w.Entry {
		for _, ch := range e.Changes {
			names := make(map[string]string, len(ch.Value.Contacts))
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range ch.Value.Messages {
				if m.Type != "text" || m.From == "" {
					continue
				}
				out = append(out, InboundMessage{
					From:       m.From,
					Name:       names[m.From],
					Text:       m.Text.Body,
					ExternalID: m.ID,
					Provider:   "official",
					Source:     SourceOfficial,
					ReceivedAt: now,
				})
			}
		}
	}
	return out, nil
}

type evolutionWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID       string `json:"id"`
		From     string `json:"from"`
		PushName string `json:"pushName"`
		Type     string `json:"type"`
		Content  string `json:"content"`
	} `json:"data"`
}

// ParseEvolutionWebhook extracts a text message from an Evolution API event.
// ok is false for events that carry no text message.
func ParseEvolutionWebhook(body []byte, now time.Time) (InboundMessage, bool, error) {
	var w evolutionWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return InboundMessage{}, false, fmt.Errorf("messaging: invalid evolution webhook: %w", err)
	}
	if w.Event != "message" || w.Data.Type != "text" {
		return InboundMessage{}, false, nil
	}
	from := digitsOnly(w.Data.From)
	if from == "" {
		return InboundMessage{}, false, nil
	}
	return InboundMessage{
		From:       from,
		Name:       w.Data.PushName,
		Text:       w.Data.Content,
		ExternalID: w.Data.ID,
		Provider:   "evolution",
		Source:     SourceEvolution,
		ReceivedAt: now,
	}, true, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
