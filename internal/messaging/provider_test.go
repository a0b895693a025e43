package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOfficialProvider_Send(t *testing.T) {
	var got graphTextMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/biz-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected auth %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	p := NewOfficialProvider(srv.URL, "biz-1", "tok")
	res, err := p.Send(context.Background(), OutboundMessage{To: "5511", Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ExternalID != "wamid.1" || res.Status != "sent" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.MessagingProduct != "whatsapp" || got.To != "5511" || got.Text.Body != "hello" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestOfficialProvider_ErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid recipient"}}`))
	}))
	defer srv.Close()

	_, err := NewOfficialProvider(srv.URL, "biz", "tok").Send(context.Background(), OutboundMessage{To: "x", Content: "y"})
	if err == nil || err.Error() != "invalid recipient" {
		t.Fatalf("expected provider error message, got %v", err)
	}
}

func TestEvolutionProvider_Send(t *testing.T) {
	var got evolutionSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sales/messages/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"key":{"id":"evo-1"}}`))
	}))
	defer srv.Close()

	res, err := NewEvolutionProvider(srv.URL, "key").Send(context.Background(), OutboundMessage{To: "5511", Content: "hi", Instance: "sales"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ExternalID != "evo-1" || got.Number != "5511" || got.TextMessage.Text != "hi" || got.Options.Presence != "composing" {
		t.Fatalf("unexpected result=%+v payload=%+v", res, got)
	}
}

func TestProviders_Get(t *testing.T) {
	if NewOfficialProvider("", "", "") != nil || NewEvolutionProvider("", "") != nil {
		t.Fatalf("unconfigured providers must be nil")
	}
	ps := NewProviders(NewOfficialProvider("", "biz", "tok"))
	if p, err := ps.Get(""); err != nil || p.Name() != "official" {
		t.Fatalf("expected default provider, got %v %v", p, err)
	}
	if _, err := ps.Get("evolution"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
