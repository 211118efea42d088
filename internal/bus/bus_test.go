package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncCompleted, Payload: SyncReport{ConversationID: "c1", Pushed: 1}})

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncCompleted {
			t.Errorf("got kind %q, want %s", evt.Kind, KindSyncCompleted)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("live.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindSyncFailed})
	b.Publish(Event{Kind: KindLiveConnected})

	select {
	case evt := <-ch:
		if evt.Kind != KindLiveConnected {
			t.Errorf("got kind %q, want %s", evt.Kind, KindLiveConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure sync event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestConversationTopicIsExact verifies that a conversation subscription does
// not receive events of a conversation whose id merely shares a prefix.
func TestConversationTopicIsExact(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(ConversationTopic("conv1"), 10)
	defer unsub()

	b.Publish(Event{Kind: ConversationChangedKind("conv10")})
	b.Publish(Event{Kind: ConversationChangedKind("conv1"), Payload: ConversationChanged{ConversationID: "conv1"}})

	select {
	case evt := <-ch:
		change, ok := evt.Payload.(ConversationChanged)
		if !ok || change.ConversationID != "conv1" {
			t.Errorf("got payload %v, want conv1 change", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for conv1 event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	unsub()
	unsub()

	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}

	b.Publish(Event{Kind: KindSyncCompleted})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
	if n := b.Dropped(); n != 1 {
		t.Errorf("dropped = %d, want 1", n)
	}
}

func TestUnsubscribeKeepsOthers(t *testing.T) {
	b := New()
	_, unsubA := b.Subscribe("sync.", 1)
	chB, unsubB := b.Subscribe("sync.", 1)
	defer unsubB()

	unsubA()
	if n := b.Subscribers(); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	b.Publish(Event{Kind: KindSyncFailed})
	select {
	case <-chB:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed the event")
	}
}

func TestFamily(t *testing.T) {
	tests := map[string]string{
		KindSyncCompleted:              "sync",
		KindLiveReconnecting:           "live",
		KindStatusChanged:              "status",
		ConversationChangedKind("c.1"): "conversation",
		"plain":                        "plain",
	}
	for kind, want := range tests {
		if got := Family(kind); got != want {
			t.Errorf("Family(%q) = %q, want %q", kind, got, want)
		}
	}
}
