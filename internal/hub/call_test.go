package hub

import (
	"context"
	"strings"
	"testing"
	"time"

	"mcp-hub/internal/calls"
	"mcp-hub/internal/store"
)

func seedLead(t *testing.T, f *fixture, l store.Lead) store.Lead {
	t.Helper()
	l, err := f.store.InsertLead(context.Background(), l)
	if err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return l
}

func waitDial(t *testing.T, f *fixture, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.trunk.dials()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d dials, got %d", n, len(f.trunk.dials()))
}

func TestInitiate_WithLead(t *testing.T) {
	f := newFixture(t, slowCalls())
	alice, aliceCh := f.connect("alice", "Alice")
	seedLead(t, f, store.Lead{ID: "lead-1", Name: "Ada", Phone: "+15550100"})

	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"leadId": "lead-1"}})

	init := data[CallInitiating](t, aliceCh.waitFor(t, "mcp:call:initiating"))
	if init.LeadName != "Ada" || init.PhoneNumber != "+15550100" || init.ConversationID == "" {
		t.Fatalf("unexpected initiating payload: %+v", init)
	}

	row := f.call(t, init.CallID)
	if row.Status != store.CallInitiating || row.ConversationID != init.ConversationID || row.AgentID != "alice" {
		t.Fatalf("unexpected call row: %+v", row)
	}
	conv, ok := f.store.Conversation(init.ConversationID)
	if !ok || conv.Channel != store.ChannelCall || conv.LeadID != "lead-1" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	st := data[CallStatusPayload](t, aliceCh.waitFor(t, "mcp:call:status"))
	if st.Status != calls.StatusCalling || st.CallID != init.CallID {
		t.Fatalf("unexpected status event: %+v", st)
	}

	waitDial(t, f, 1)
	if d := f.trunk.dials()[0]; d.CallID != init.CallID || d.To != "+15550100" || d.AgentID != "alice" {
		t.Fatalf("unexpected dial: %+v", d)
	}
	close(f.trunk.release)

	ring := data[CallRinging](t, aliceCh.waitFor(t, "mcp:call:ringing"))
	if ring.CallID != init.CallID || ring.LeadName != "Ada" {
		t.Fatalf("unexpected ringing payload: %+v", ring)
	}
	f.waitCallStatus(t, init.CallID, store.CallRinging)
}

func TestInitiate_ReusesLatestConversation(t *testing.T) {
	f := newFixture(t, calls.Config{ConnectDelay: time.Hour})
	alice, aliceCh := f.connect("alice", "Alice")
	seedLead(t, f, store.Lead{ID: "lead-1", Name: "Ada", Phone: "+15550100"})
	existing, _ := f.store.InsertConversation(context.Background(), store.Conversation{
		LeadID: "lead-1", Channel: store.ChannelCall, Status: store.ConversationInactive,
	})

	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"leadId": "lead-1"}})

	init := data[CallInitiating](t, aliceCh.waitFor(t, "mcp:call:initiating"))
	if init.ConversationID != existing.ID {
		t.Fatalf("expected conversation %s reused, got %s", existing.ID, init.ConversationID)
	}
	if c, _ := f.store.Conversation(existing.ID); c.Status != store.ConversationActive {
		t.Fatalf("expected conversation re-activated, got %s", c.Status)
	}
}

func TestInitiate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"no target", map[string]any{}, "leadId or phoneNumber"},
		{"unknown lead", map[string]any{"leadId": "missing"}, "lead not found"},
		{"lead without phone", map[string]any{"leadId": "lead-np"}, "no phone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, slowCalls())
			seedLead(t, f, store.Lead{ID: "lead-np", Name: "No Phone"})
			alice, aliceCh := f.connect("alice", "Alice")

			f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": tc.payload})

			e := data[ErrorPayload](t, aliceCh.waitFor(t, "mcp:error"))
			if e.OriginalAction != "initiate" || !strings.Contains(e.Message, tc.want) {
				t.Fatalf("unexpected error: %+v", e)
			}
			if len(f.store.Calls()) != 0 {
				t.Fatalf("no call row may be created")
			}
			if f.hub.CallSnapshot("alice").Status != calls.StatusIdle {
				t.Fatalf("engine must stay idle")
			}
		})
	}
}

func TestInitiate_WhileBusyIsConflict(t *testing.T) {
	f := newFixture(t, slowCalls())
	alice, aliceCh := f.connect("alice", "Alice")

	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+15550101"}})
	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+15550102"}})

	e := data[ErrorPayload](t, aliceCh.waitFor(t, "mcp:error"))
	if !strings.Contains(e.Message, "already calling") {
		t.Fatalf("unexpected conflict message %q", e.Message)
	}
	if n := len(f.store.Calls()); n != 1 {
		t.Fatalf("expected 1 call row, got %d", n)
	}
}

func TestEndBeforeRinging_DiscardsRingingReport(t *testing.T) {
	f := newFixture(t, slowCalls())
	alice, aliceCh := f.connect("alice", "Alice")

	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+15550101"}})
	init := data[CallInitiating](t, aliceCh.waitFor(t, "mcp:call:initiating"))
	waitDial(t, f, 1)

	f.dispatch(alice, "mcp:call", map[string]any{"action": "end", "payload": map[string]any{"callId": init.CallID}})
	f.waitCallStatus(t, init.CallID, store.CallEnded)

	close(f.trunk.release)
	<-f.trunk.returned
	time.Sleep(50 * time.Millisecond)

	if n := len(aliceCh.events("mcp:call:ringing")); n != 0 {
		t.Fatalf("ringing after end must be discarded, got %d", n)
	}
	row := f.call(t, init.CallID)
	if row.Status != store.CallEnded || row.Duration == nil || row.EndTime == nil {
		t.Fatalf("unexpected final row: %+v", row)
	}
	if st := f.hub.CallSnapshot("alice").Status; st != calls.StatusIdle {
		t.Fatalf("expected idle after reset, got %s", st)
	}
}

func TestControl_MismatchedCallIDIsIgnored(t *testing.T) {
	f := newFixture(t, slowCalls())
	alice, aliceCh := f.connect("alice", "Alice")

	f.dispatch(alice, "mcp:call", map[string]any{"action": "initiate", "payload": map[string]any{"phoneNumber": "+15550101"}})
	f.dispatch(alice, "mcp:call", map[string]any{"action": "end", "payload": map[string]any{"callId": "some-other-call"}})
	f.dispatch(alice, "mcp:call", map[string]any{"action": "answer"})

	if st := f.hub.CallSnapshot("alice").Status; st != calls.StatusCalling {
		t.Fatalf("expected call untouched, got %s", st)
	}
	if len(aliceCh.events("mcp:error")) != 0 {
		t.Fatalf("incompatible actions are logged, not reported")
	}
}

func TestControl_HoldAndTransfer(t *testing.T) {
	f := newFixture(t, calls.Config{AutoAnswer: true, ConnectDelay: time.Hour})
	alice, aliceCh := f.connect("alice", "Alice")
	if _, err := f.hub.HandleTrunkEvent(context.Background(), inbound("trunk-1", "+15550199", "alice")); err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if st := f.hub.CallSnapshot("alice").Status; st != calls.StatusConnected {
		t.Fatalf("expected auto-answered call, got %s", st)
	}

	f.dispatch(alice, "mcp:call", map[string]any{"action": "hold", "payload": map[string]any{"on": true}})
	if s := f.hub.CallSnapshot("alice"); s.Call == nil || !s.Call.OnHold {
		t.Fatalf("expected call on hold: %+v", s.Call)
	}

	f.dispatch(alice, "mcp:call", map[string]any{"action": "transfer", "payload": map[string]any{}})
	if e := data[ErrorPayload](t, aliceCh.waitFor(t, "mcp:error")); e.OriginalAction != "transfer" {
		t.Fatalf("unexpected error: %+v", e)
	}

	f.dispatch(alice, "mcp:call", map[string]any{"action": "transfer", "payload": map[string]any{"target": "bob"}})
	if s := f.hub.CallSnapshot("alice"); s.Call == nil || s.Call.TransferredTo != "bob" {
		t.Fatalf("expected transfer recorded: %+v", s.Call)
	}
}

func TestControl_Recording(t *testing.T) {
	f := newFixture(t, calls.Config{AutoAnswer: true, RecordingEnabled: false, ConnectDelay: time.Hour})
	alice, aliceCh := f.connect("alice", "Alice")

	f.dispatch(alice, "mcp:call", map[string]any{"action": "record:start"})
	if e := data[ErrorPayload](t, aliceCh.waitFor(t, "mcp:error")); e.OriginalAction != "record:start" {
		t.Fatalf("expected refusal without a call: %+v", e)
	}

	if _, err := f.hub.HandleTrunkEvent(context.Background(), inbound("trunk-1", "+15550199", "alice")); err != nil {
		t.Fatalf("incoming: %v", err)
	}
	f.dispatch(alice, "mcp:call", map[string]any{"action": "record:start"})
	started := data[CallRecording](t, aliceCh.waitFor(t, "mcp:call:recording"))
	if started.Recording.Status != calls.RecordingActive {
		t.Fatalf("expected active recording: %+v", started)
	}

	f.dispatch(alice, "mcp:call", map[string]any{"action": "record:start"})
	if n := len(aliceCh.events("mcp:error")); n != 2 {
		t.Fatalf("expected second start refused, errors=%d", n)
	}

	f.dispatch(alice, "mcp:call", map[string]any{"action": "record:stop"})
	if s := f.hub.CallSnapshot("alice"); s.Recording != nil || len(s.Recordings) != 1 {
		t.Fatalf("expected one completed recording: %+v", s)
	}
	f.dispatch(alice, "mcp:call", map[string]any{"action": "record:stop"})
	if n := len(aliceCh.events("mcp:error")); n != 3 {
		t.Fatalf("expected stop without recording refused, errors=%d", n)
	}
}
