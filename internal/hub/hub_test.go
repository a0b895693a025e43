package hub

import (
	"context"
	"testing"

	"mcp-hub/internal/calls"
	"mcp-hub/internal/publisher"
	"mcp-hub/internal/registry"
	"mcp-hub/internal/store"
)

func TestNew_RequiresRegistryAndStore(t *testing.T) {
	if _, err := New(Deps{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without registry")
	}
	if _, err := New(Deps{Registry: registry.New(nil)}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestCallSnapshot_UnknownUserIsIdle(t *testing.T) {
	f := newFixture(t, slowCalls())
	s := f.hub.CallSnapshot("nobody")
	if s.Status != calls.StatusIdle || s.Call != nil || s.History == nil {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestCallsByStatus(t *testing.T) {
	f := newFixture(t, slowCalls())
	alice, _ := f.connect("alice", "Alice")
	f.connect("bob", "Bob")
	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+1"}})
	f.hub.line("bob")

	got := f.hub.CallsByStatus()
	if got["calling"] != 1 || got["idle"] != 1 {
		t.Fatalf("unexpected counts: %v", got)
	}
}

func TestCallListeners_ReceiveEngineEvents(t *testing.T) {
	reg := registry.New(nil)
	mock := publisher.NewMockPublisher()
	fwd := publisher.NewForwarder(mock, "hub", 16, nil)

	h, err := New(Deps{
		Registry:      reg,
		Store:         store.NewMemoryStore(),
		Calls:         calls.Config{ConnectDelay: 0, ResetDelay: 0},
		CallListeners: []func(string) calls.Listener{fwd.Listener},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer h.Close()

	ch := &fakeChannel{}
	f := &fixture{hub: h, reg: reg}
	p := &Peer{Channel: ch}
	p.Identity.UserID = "alice"
	f.dispatch(p, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+1"}})
	f.dispatch(p, "mcp:call", map[string]any{"action": "end"})

	ctx, cancel := context.WithCancel(context.Background())
	go fwd.Run(ctx)
	cancel()
	fwd.Wait()

	var sawEnded bool
	for _, m := range mock.Messages() {
		if m.Topic == "hub/calls/alice/call_ended" {
			sawEnded = true
		}
	}
	if !sawEnded {
		t.Fatalf("expected call_ended published, got %d messages", len(mock.Messages()))
	}
	if got := len(ch.events("mcp:call:status")); got != 0 {
		t.Fatalf("status events go through the registry, not the peer channel; got %d", got)
	}
}

func TestReleaseLine(t *testing.T) {
	f := newFixture(t, slowCalls())
	alice, _ := f.connect("alice", "Alice")
	f.connect("bob", "Bob")
	f.hub.line("bob")
	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+1"}})

	if f.hub.ReleaseLine("bob") {
		t.Fatalf("line of an online user must stay")
	}
	f.reg.Unregister("bob")
	f.reg.Unregister("alice")

	if !f.hub.ReleaseLine("bob") {
		t.Fatalf("expected idle offline line released")
	}
	if f.hub.ReleaseLine("alice") {
		t.Fatalf("line holding a call must stay")
	}
	if _, ok := f.hub.existingLine("bob"); ok {
		t.Fatalf("bob's line still registered")
	}
	if _, ok := f.hub.existingLine("alice"); !ok {
		t.Fatalf("alice's line was dropped mid-call")
	}
	if f.hub.ReleaseLine("nobody") {
		t.Fatalf("unknown user has nothing to release")
	}
}

