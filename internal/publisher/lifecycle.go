package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"mcp-hub/internal/calls"
)

// CallEvent is the JSON body published for each lifecycle event.
type CallEvent struct {
	Event     calls.EventKind     `json:"event"`
	UserID    string              `json:"userId"`
	CallID    string              `json:"callId,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Change    *calls.StatusChange `json:"change,omitempty"`
	Call      *calls.Call         `json:"call,omitempty"`
	Recording *calls.Recording    `json:"recording,omitempty"`
	Summary   *calls.Summary      `json:"summary,omitempty"`
}

// Topic returns "<prefix>/calls/<user>/<event>".
func Topic(prefix, userID string, kind calls.EventKind) string {
	return strings.TrimSuffix(prefix, "/") + "/calls/" + userID + "/" + string(kind)
}

type queued struct {
	topic   string
	payload []byte
}

// Forwarder queues call events and publishes them from a single goroutine,
// so engine listeners never wait on the broker. Events are dropped when the
// queue is full.
type Forwarder struct {
	pub    Publisher
	prefix string
	log    *slog.Logger

	queue chan queued
	done  chan struct{}
}

func NewForwarder(pub Publisher, prefix string, size int, log *slog.Logger) *Forwarder {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		log:    log.With("component", "mqtt_forwarder"),
		queue:  make(chan queued, size),
		done:   make(chan struct{}),
	}
}

// Listener returns a calls.Listener that forwards events for userID.
func (f *Forwarder) Listener(userID string) calls.Listener {
	return func(ev calls.Event) {
		body, err := json.Marshal(CallEvent{
			Event:     ev.Kind,
			UserID:    userID,
			CallID:    ev.CallID,
			Timestamp: ev.Timestamp,
			Change:    ev.Change,
			Call:      ev.Call,
			Recording: ev.Recording,
			Summary:   ev.Summary,
		})
		if err != nil {
			f.log.Error("marshal call event", "err", err, "event", ev.Kind)
			return
		}
		select {
		case f.queue <- queued{topic: Topic(f.prefix, userID, ev.Kind), payload: body}:
		default:
			f.log.Warn("publish queue full, dropping event", "event", ev.Kind, "user_id", userID)
		}
	}
}

// Run publishes queued events until ctx is cancelled, then drains what is
// left with a short deadline.
func (f *Forwarder) Run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case m := <-f.queue:
			f.publish(ctx, m)
		case <-ctx.Done():
			f.drain()
			return
		}
	}
}

// Wait blocks until Run has returned.
func (f *Forwarder) Wait() { <-f.done }

func (f *Forwarder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case m := <-f.queue:
			f.publish(ctx, m)
		default:
			return
		}
	}
}

func (f *Forwarder) publish(ctx context.Context, m queued) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.pub.Publish(pctx, m.topic, m.payload); err != nil {
		f.log.Warn("publish failed", "topic", m.topic, "err", err)
	}
}
