package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mcp-hub/internal/calls"
	"mcp-hub/internal/clients"
	"mcp-hub/internal/messaging"
	"mcp-hub/internal/registry"
	"mcp-hub/internal/store"
	"mcp-hub/internal/telephony"
)

// Metrics receives router counters. *metrics.Recorder satisfies it.
type Metrics interface {
	EventRouted(event string)
	EventFailed(event, kind string)
	DeliveryMissed(event string)
	RateLimited()
}

type nopMetrics struct{}

func (nopMetrics) EventRouted(string)         {}
func (nopMetrics) EventFailed(string, string) {}
func (nopMetrics) DeliveryMissed(string)      {}
func (nopMetrics) RateLimited()               {}

// Deps wires a Hub. Registry and Store are required.
type Deps struct {
	Registry  *registry.Registry
	Store     store.Gateway
	Trunk     telephony.Trunk
	Providers messaging.Providers
	Calls     calls.Config
	Metrics   Metrics
	Log       *slog.Logger

	// Clients lists integration clients announced to new sessions. Optional.
	Clients ClientDirectory

	// CallListeners are attached to every per-user engine, after the hub's own listener.
	CallListeners []func(userID string) calls.Listener
	EngineOptions []calls.Option
	Now           func() time.Time
}

// ClientDirectory is satisfied by *clients.Directory.
type ClientDirectory interface {
	Active() []clients.Client
	FeaturesFor(ownerID string) []string
}

// Hub routes session events and owns one call engine per user.
type Hub struct {
	reg       *registry.Registry
	store     store.Gateway
	trunk     telephony.Trunk
	providers messaging.Providers
	callCfg   calls.Config
	metrics   Metrics
	log       *slog.Logger
	now       func() time.Time

	clients ClientDirectory

	extraListeners []func(userID string) calls.Listener
	engineOpts     []calls.Option

	mu      sync.Mutex
	engines map[string]*agentLine
}

// agentLine is a user's engine plus the outbound dial currently in flight.
type agentLine struct {
	engine *calls.Engine

	mu             sync.Mutex
	dialCallID     string
	dialCancel     context.CancelFunc
	providerCallID string
}

func New(d Deps) (*Hub, error) {
	if d.Registry == nil {
		return nil, errors.New("hub: registry is required")
	}
	if d.Store == nil {
		return nil, errors.New("hub: store is required")
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Providers == nil {
		d.Providers = messaging.Providers{}
	}
	return &Hub{
		reg:            d.Registry,
		store:          d.Store,
		trunk:          d.Trunk,
		providers:      d.Providers,
		callCfg:        d.Calls,
		metrics:        d.Metrics,
		log:            d.Log.With("component", "hub"),
		now:            d.Now,
		clients:        d.Clients,
		extraListeners: d.CallListeners,
		engineOpts:     d.EngineOptions,
		engines:        make(map[string]*agentLine),
	}, nil
}

func (h *Hub) Registry() *registry.Registry { return h.reg }

// line returns the user's engine, creating it on first use.
func (h *Hub) line(userID string) *agentLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.engines[userID]; ok {
		return l
	}
	l := &agentLine{engine: calls.NewEngine(h.callCfg, h.engineOpts...)}
	l.engine.Subscribe(h.callListener(userID, l))
	for _, mk := range h.extraListeners {
		l.engine.Subscribe(mk(userID))
	}
	h.engines[userID] = l
	return l
}

func (h *Hub) existingLine(userID string) (*agentLine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.engines[userID]
	return l, ok
}

// ReleaseLine drops the user's engine once they are offline and it holds no
// call. Its in-memory history goes with it; call rows stay in the store.
func (h *Hub) ReleaseLine(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.engines[userID]
	if !ok || h.reg.Online(userID) {
		return false
	}
	if _, held := l.engine.Current(); held || l.engine.Status() != calls.StatusIdle {
		return false
	}
	delete(h.engines, userID)
	l.engine.Close()
	return true
}

// lineForCall finds the engine currently holding callID. Trunk callbacks may
// carry the hub id, the trunk's own id or the provider's dial id.
func (h *Hub) lineForCall(callID string) (string, *agentLine, bool) {
	if callID == "" {
		return "", nil, false
	}
	h.mu.Lock()
	lines := make(map[string]*agentLine, len(h.engines))
	for uid, l := range h.engines {
		lines[uid] = l
	}
	h.mu.Unlock()

	for uid, l := range lines {
		c, ok := l.engine.Current()
		if !ok {
			continue
		}
		if c.ID == callID || c.Metadata["trunkCallId"] == callID {
			return uid, l, true
		}
		l.mu.Lock()
		pid := l.providerCallID
		dialing := l.dialCallID
		l.mu.Unlock()
		if pid != "" && pid == callID && dialing == c.ID {
			return uid, l, true
		}
	}
	return "", nil, false
}

// CallSnapshot returns the user's engine state. Users without an engine are idle.
func (h *Hub) CallSnapshot(userID string) calls.Snapshot {
	if l, ok := h.existingLine(userID); ok {
		return l.engine.Snapshot()
	}
	return calls.Snapshot{Status: calls.StatusIdle, History: []calls.Call{}, Recordings: []calls.Recording{}}
}

func (h *Hub) activeClients() []clients.Summary {
	out := []clients.Summary{}
	if h.clients == nil {
		return out
	}
	for _, c := range h.clients.Active() {
		out = append(out, c.Summary())
	}
	return out
}

// defaultCapabilities are the features registered by userID's clients, for
// sessions that declare none.
func (h *Hub) defaultCapabilities(userID string) []string {
	if h.clients == nil {
		return nil
	}
	return h.clients.FeaturesFor(userID)
}

// CallsByStatus counts engines by status for the metrics collector.
func (h *Hub) CallsByStatus() map[string]int {
	h.mu.Lock()
	lines := make([]*agentLine, 0, len(h.engines))
	for _, l := range h.engines {
		lines = append(lines, l)
	}
	h.mu.Unlock()

	out := make(map[string]int)
	for _, l := range lines {
		out[string(l.engine.Status())]++
	}
	return out
}

// Close cancels dials and pending engine transitions.
func (h *Hub) Close() {
	h.mu.Lock()
	lines := make([]*agentLine, 0, len(h.engines))
	for _, l := range h.engines {
		lines = append(lines, l)
	}
	h.mu.Unlock()

	for _, l := range lines {
		l.cancelDial("")
		l.engine.Close()
	}
}

// send delivers to userID and counts misses.
func (h *Hub) send(userID, event string, payload any) bool {
	if h.reg.Send(userID, event, payload) {
		return true
	}
	h.metrics.DeliveryMissed(event)
	return false
}

/* ===================== ENGINE LISTENER ===================== */

// CallStatusPayload is the body of mcp:call:status.
type CallStatusPayload struct {
	CallID    string       `json:"callId"`
	Previous  calls.Status `json:"previous"`
	Status    calls.Status `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

func rowStatus(s calls.Status) (store.CallStatus, bool) {
	switch s {
	case calls.StatusRinging:
		return store.CallRinging, true
	case calls.StatusConnected:
		return store.CallConnected, true
	case calls.StatusEnded:
		return store.CallEnded, true
	default:
		return "", false
	}
}

func (h *Hub) callListener(userID string, l *agentLine) calls.Listener {
	log := h.log.With("user_id", userID)
	return func(ev calls.Event) {
		switch ev.Kind {
		case calls.EventStatusChange:
			ch := ev.Change
			if ch.CallID != "" {
				if st, ok := rowStatus(ch.Current); ok {
					h.persistStatus(log, ch.CallID, st, ch.Timestamp)
				}
			}
			h.send(userID, "mcp:call:status", CallStatusPayload{
				CallID:    ch.CallID,
				Previous:  ch.Previous,
				Status:    ch.Current,
				Timestamp: ch.Timestamp,
			})
		case calls.EventCallEnded:
			l.cancelDial(ev.CallID)
			if ev.Summary != nil {
				log.Info("call ended", "call_id", ev.CallID, "duration", ev.Summary.Duration, "recordings", len(ev.Summary.Recordings))
			}
		case calls.EventRecordingStarted, calls.EventRecordingEnded:
			log.Debug("recording", "event", ev.Kind, "call_id", ev.CallID, "recording_id", ev.Recording.ID)
		}
	}
}

// persistStatus writes a call row transition. Failures are logged, never surfaced.
func (h *Hub) persistStatus(log *slog.Logger, callID string, st store.CallStatus, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.store.UpdateCallStatus(ctx, callID, st, at.UTC())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrStaleStatus), errors.Is(err, store.ErrNotFound):
		log.Debug("call row not advanced", "call_id", callID, "status", st, "error", err)
	default:
		log.Error("persist call status failed", "call_id", callID, "status", st, "error", err)
	}
}

/* ===================== DIAL TRACKING ===================== */

func (l *agentLine) startDial(callID string, cancel context.CancelFunc) {
	l.mu.Lock()
	prev := l.dialCancel
	l.dialCallID = callID
	l.dialCancel = cancel
	l.providerCallID = ""
	l.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (l *agentLine) setProviderCallID(callID, providerID string) {
	l.mu.Lock()
	if l.dialCallID == callID {
		l.providerCallID = providerID
	}
	l.mu.Unlock()
}

// cancelDial stops the in-flight dial for callID, or any dial when callID is empty.
func (l *agentLine) cancelDial(callID string) {
	l.mu.Lock()
	cancel := l.dialCancel
	if cancel == nil || (callID != "" && l.dialCallID != callID) {
		l.mu.Unlock()
		return
	}
	l.dialCancel = nil
	l.mu.Unlock()
	cancel()
}

// finishDial drops the cancel func once the dial returned, keeping the provider id.
func (l *agentLine) finishDial(callID string) {
	l.mu.Lock()
	if l.dialCallID == callID {
		l.dialCancel = nil
	}
	l.mu.Unlock()
}
