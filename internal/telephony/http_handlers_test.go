package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type recordingSink struct {
	events []TrunkEvent
	disp   Disposition
	err    error
}

func (s *recordingSink) HandleTrunkEvent(ctx context.Context, ev TrunkEvent) (Disposition, error) {
	s.events = append(s.events, ev)
	return s.disp, s.err
}

func newRouter(h Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/sip/event", h.HandleSIPEvent)
	r.POST("/webhooks/twilio/voice", h.HandleTwilioVoice)
	r.POST("/webhooks/twilio/status", h.HandleTwilioStatus)
	return r
}

func TestHandleSIPEvent(t *testing.T) {
	sink := &recordingSink{}
	r := newRouter(Handler{Sink: sink})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sip/event", strings.NewReader(`{"type":"call_answered","callId":"c1"}`)))
	if w.Code != 200 || len(sink.events) != 1 || sink.events[0].Type != EventCallAnswered {
		t.Fatalf("unexpected: code=%d events=%+v", w.Code, sink.events)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sip/event", strings.NewReader(`{"type":"unknown","callId":"c1"}`)))
	if w.Code != 200 || len(sink.events) != 1 {
		t.Fatalf("unknown events must be acknowledged and ignored: code=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sip/event", strings.NewReader(`{`)))
	if w.Code != 400 {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}

	sink.err = errors.New("db down")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sip/event", strings.NewReader(`{"type":"call_ended","callId":"c1"}`)))
	if w.Code != 500 {
		t.Fatalf("expected 500 on sink failure, got %d", w.Code)
	}
}

func TestHandleTwilioVoice(t *testing.T) {
	sink := &recordingSink{disp: Disposition{AgentID: "u1", Accepted: true}}
	r := newRouter(Handler{Sink: sink, SIPDomain: "pbx.example.com"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, twilioRequest("/webhooks/twilio/voice", "CallSid=CA9&From=%2B1555"))
	if w.Code != 200 || !strings.Contains(w.Body.String(), "sip:u1@pbx.example.com") {
		t.Fatalf("unexpected twiml: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/xml" {
		t.Fatalf("expected xml content type")
	}

	sink.disp = Disposition{}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, twilioRequest("/webhooks/twilio/voice", "CallSid=CA10"))
	if !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject when nobody accepts, got %s", w.Body.String())
	}
}

func TestHandleTwilioStatus(t *testing.T) {
	sink := &recordingSink{}
	r := newRouter(Handler{Sink: sink})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, twilioRequest("/webhooks/twilio/status?callId=hub-1", "CallSid=CA1&CallStatus=completed"))
	if w.Code != 204 || len(sink.events) != 1 || sink.events[0].CallID != "hub-1" {
		t.Fatalf("unexpected: code=%d events=%+v", w.Code, sink.events)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, twilioRequest("/webhooks/twilio/status", "CallSid=CA1&CallStatus=queued"))
	if w.Code != 204 || len(sink.events) != 1 {
		t.Fatalf("queued should be ignored")
	}
}
