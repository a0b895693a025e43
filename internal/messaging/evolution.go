package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// EvolutionProvider sends through a self-hosted Evolution API.
type EvolutionProvider struct {
	client *resty.Client
}

// NewEvolutionProvider returns nil when the API is not configured.
func NewEvolutionProvider(baseURL, apiKey string) *EvolutionProvider {
	if baseURL == "" || apiKey == "" {
		return nil
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(apiKey).
		SetTimeout(15 * time.Second)
	return &EvolutionProvider{client: c}
}

func (p *EvolutionProvider) Name() string { return "evolution" }

type evolutionSendRequest struct {
	Number  string `json:"number"`
	Options struct {
		Delay    int    `json:"delay"`
		Presence string `json:"presence"`
	} `json:"options"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
}

type evolutionSendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

type evolutionError struct {
	Message string `json:"message"`
}

func (p *EvolutionProvider) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	instance := msg.Instance
	if instance == "" {
		instance = "default"
	}

	var body evolutionSendRequest
	body.Number = msg.To
	body.Options.Delay = 1200
	body.Options.Presence = "composing"
	body.TextMessage.Text = msg.Content

	var (
		out  evolutionSendResponse
		fail evolutionError
	)
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&fail).
		Post("/api/" + url.PathEscape(instance) + "/messages/send")
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: evolution send: %w", err)
	}
	if resp.IsError() {
		if fail.Message != "" {
			return SendResult{}, errors.New(fail.Message)
		}
		return SendResult{}, fmt.Errorf("messaging: evolution send: status %d", resp.StatusCode())
	}
	return SendResult{ExternalID: out.Key.ID, Status: "sent"}, nil
}
