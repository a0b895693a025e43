package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const graphBaseURL = "https://graph.facebook.com/v17.0"

// OfficialProvider sends through the WhatsApp Cloud API.
type OfficialProvider struct {
	businessID string
	client     *resty.Client
}

// NewOfficialProvider returns nil when credentials are missing.
func NewOfficialProvider(baseURL, businessID, accessToken string) *OfficialProvider {
	if businessID == "" || accessToken == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = graphBaseURL
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(accessToken).
		SetTimeout(15 * time.Second)
	return &OfficialProvider{businessID: businessID, client: c}
}

func (p *OfficialProvider) Name() string { return "official" }

type graphTextMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type graphSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OfficialProvider) Send(ctx context.Context, msg OutboundMessage) (SendResult, error) {
	body := graphTextMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               msg.To,
		Type:             "text",
	}
	body.Text.Body = msg.Content

	var (
		out  graphSendResponse
		fail graphError
	)
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&fail).
		Post("/" + p.businessID + "/messages")
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: official send: %w", err)
	}
	if resp.IsError() {
		if fail.Error.Message != "" {
			return SendResult{}, errors.New(fail.Error.Message)
		}
		return SendResult{}, fmt.Errorf("messaging: official send: status %d", resp.StatusCode())
	}
	if len(out.Messages) == 0 {
		return SendResult{}, errors.New("messaging: official send: no message id returned")
	}
	return SendResult{ExternalID: out.Messages[0].ID, Status: "sent"}, nil
}
