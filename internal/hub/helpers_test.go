package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"mcp-hub/internal/auth"
	"mcp-hub/internal/calls"
	"mcp-hub/internal/messaging"
	"mcp-hub/internal/registry"
	"mcp-hub/internal/store"
	"mcp-hub/internal/telephony"
)

type fakeChannel struct {
	mu     sync.Mutex
	got    []registry.Outbound
	closed string
}

func (f *fakeChannel) Deliver(o registry.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed != "" {
		return registry.ErrChannelClosed
	}
	f.got = append(f.got, o)
	return nil
}

func (f *fakeChannel) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = reason
}

func (f *fakeChannel) events(name string) []registry.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registry.Outbound
	for _, o := range f.got {
		if o.Event == name {
			out = append(out, o)
		}
	}
	return out
}

func (f *fakeChannel) waitFor(t *testing.T, name string) registry.Outbound {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := f.events(name); len(evs) > 0 {
			return evs[len(evs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", name)
	return registry.Outbound{}
}

// fakeTrunk reports ringing once release is closed, regardless of ctx.
type fakeTrunk struct {
	mu       sync.Mutex
	requests []telephony.DialRequest
	release  chan struct{}
	returned chan struct{}
}

func newFakeTrunk() *fakeTrunk {
	return &fakeTrunk{release: make(chan struct{}), returned: make(chan struct{}, 8)}
}

func (f *fakeTrunk) Name() string { return "fake" }

func (f *fakeTrunk) Dial(ctx context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	defer func() { f.returned <- struct{}{} }()
	<-f.release
	return telephony.DialResult{ProviderCallID: "prov-" + req.CallID, Ringing: true}, nil
}

func (f *fakeTrunk) dials() []telephony.DialRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telephony.DialRequest(nil), f.requests...)
}

type fakeProvider struct {
	name string
	mu   sync.Mutex
	sent []messaging.OutboundMessage
	err  error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Send(_ context.Context, m messaging.OutboundMessage) (messaging.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return messaging.SendResult{}, f.err
	}
	f.sent = append(f.sent, m)
	return messaging.SendResult{ExternalID: "wamid.1", Status: "sent"}, nil
}

type fixture struct {
	hub      *Hub
	reg      *registry.Registry
	store    *store.MemoryStore
	trunk    *fakeTrunk
	provider *fakeProvider
	now      time.Time
}

func newFixture(t *testing.T, cfg calls.Config) *fixture {
	t.Helper()
	f := &fixture{
		reg:      registry.New(nil),
		store:    store.NewMemoryStore(),
		trunk:    newFakeTrunk(),
		provider: &fakeProvider{name: "official"},
		now:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h, err := New(Deps{
		Registry:  f.reg,
		Store:     f.store,
		Trunk:     f.trunk,
		Providers: messaging.NewProviders(f.provider),
		Calls:     cfg,
		Now:       func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	f.hub = h
	t.Cleanup(func() {
		select {
		case <-f.trunk.release:
		default:
			close(f.trunk.release)
		}
		h.Close()
	})
	return f
}

// slowCalls keeps outbound calls in calling for the duration of a test.
func slowCalls() calls.Config {
	return calls.Config{ConnectDelay: time.Hour, ResetDelay: 0}
}

func (f *fixture) connect(userID, name string, caps ...string) (*Peer, *fakeChannel) {
	ch := &fakeChannel{}
	id := auth.Identity{UserID: userID, Name: name, Role: "agent"}
	f.reg.Register(registry.Session{Identity: id, Channel: ch, Capabilities: caps})
	return &Peer{Identity: id, Channel: ch}, ch
}

func (f *fixture) dispatch(p *Peer, event string, data any) {
	raw, _ := json.Marshal(data)
	f.hub.Dispatch(context.Background(), p, Envelope{Event: event, Data: raw})
}

func (f *fixture) call(t *testing.T, id string) store.CallRecord {
	t.Helper()
	c, err := f.store.GetCall(context.Background(), id)
	if err != nil {
		t.Fatalf("get call %s: %v", id, err)
	}
	return c
}

func (f *fixture) waitCallStatus(t *testing.T, id string, want store.CallStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.call(t, id).Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call %s never reached %s, have %s", id, want, f.call(t, id).Status)
}

func data[T any](t *testing.T, o registry.Outbound) T {
	t.Helper()
	v, ok := o.Data.(T)
	if !ok {
		t.Fatalf("unexpected payload type %T for %s", o.Data, o.Event)
	}
	return v
}
