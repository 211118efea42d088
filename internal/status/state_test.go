package status

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Online},
		{Booting, Offline},
		{Booting, Degraded},
		{Online, Offline},
		{Offline, Online},
		{Degraded, Online},
		{Online, Stopped},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			if tt.from != Booting {
				if err := m.Transition(tt.from, ""); err != nil {
					t.Fatal(err)
				}
			}
			if err := m.Transition(tt.to, ""); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Stopped, "shutdown"); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Online, ""); err == nil {
		t.Error("Transition(STOPPED -> ONLINE) should fail")
	}
}

func TestSameStateKeepsSince(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Offline, "dial failed")
	_, since, _ := m.Snapshot()
	if err := m.Transition(Offline, "timeout"); err != nil {
		t.Fatal(err)
	}
	state, since2, reason := m.Snapshot()
	if state != Offline || reason != "timeout" || !since2.Equal(since) {
		t.Errorf("snapshot = %s %v %q", state, since2, reason)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("status.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Offline, "no route"); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != Offline || change.Reason != "no route" {
		t.Errorf("change = %+v", change)
	}
}

func TestTrackFollowsEvents(t *testing.T) {
	b := bus.New()
	m := NewMachine(b)
	changes, unsub := b.Subscribe("status.", 10)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := m.Track(ctx)

	expect := func(want State) {
		t.Helper()
		select {
		case evt := <-changes:
			if got := evt.Payload.(StatusChange).To; got != want {
				t.Fatalf("state = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}

	b.Publish(bus.Event{Kind: bus.KindSyncCompleted, Payload: bus.SyncReport{ConversationID: "c1"}})
	expect(Online)
	b.Publish(bus.Event{Kind: bus.KindSyncFailed, Payload: bus.SyncReport{ConversationID: "c1", Err: "dial tcp: refused"}})
	expect(Offline)
	b.Publish(bus.Event{Kind: bus.KindLiveConnected, Payload: bus.LiveState{ConversationID: "c1"}})
	expect(Online)
	b.Publish(bus.Event{Kind: bus.KindSyncFailed, Payload: bus.SyncReport{ConversationID: "c1", Err: "HTTP 401", AuthFailed: true}})
	expect(Degraded)
	b.Publish(bus.Event{Kind: bus.KindLiveConnected, Payload: bus.LiveState{ConversationID: "c1"}})
	expect(Online)
	b.Publish(bus.Event{Kind: bus.KindSyncCompleted, Payload: bus.SyncReport{ConversationID: "c1", Failed: 1}})
	expect(Degraded)

	cancel()
	<-done
	if m.Current() != Stopped {
		t.Errorf("state after cancel = %s, want STOPPED", m.Current())
	}
}
