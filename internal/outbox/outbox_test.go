package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// mockTrigger records triggered syncs.
type mockTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
}

type triggerCall struct {
	ConversationID string
	Token          string
}

func (m *mockTrigger) Trigger(conversationID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, triggerCall{ConversationID: conversationID, Token: token})
}

func (m *mockTrigger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSendStoresPendingMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	db.SetPublisher(b)
	trig := &mockTrigger{}
	logger, _ := zap.NewDevelopment()
	w := NewWriter(db, trig, logger)
	w.now = func() time.Time { return time.UnixMilli(1234) }

	ch, unsub := b.Subscribe(bus.ConversationTopic("conv1"), 10)
	defer unsub()

	msg, err := w.Send(context.Background(), "conv1", "u1", "hello", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(msg.ID, store.TempIDPrefix) {
		t.Errorf("id = %q, want %s prefix", msg.ID, store.TempIDPrefix)
	}
	if msg.Status != store.StatusPending || msg.CreatedAt != 1234 {
		t.Errorf("got %+v, want pending at 1234", msg)
	}

	// Visible before any network activity.
	msgs, err := db.ListMessages("conv1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Content != "hello" || msgs[0].SenderID != "u1" {
		t.Errorf("stored = %+v", msgs)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change event")
	}

	if trig.count() != 1 || trig.calls[0] != (triggerCall{"conv1", "tok"}) {
		t.Errorf("trigger calls = %+v, want one for conv1/tok", trig.calls)
	}
}

func TestSendRejectsBlankContent(t *testing.T) {
	db := testDB(t)
	trig := &mockTrigger{}
	w := NewWriter(db, trig, nil)

	for _, content := range []string{"", "   ", "\n\t "} {
		if _, err := w.Send(context.Background(), "conv1", "u1", content, "tok"); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Send(%q): err = %v, want ErrEmptyContent", content, err)
		}
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("message count = %d, want 0", count)
	}
	if trig.count() != 0 {
		t.Errorf("trigger calls = %d, want 0", trig.count())
	}
}

func TestSendWithoutTokenDoesNotTrigger(t *testing.T) {
	db := testDB(t)
	trig := &mockTrigger{}
	w := NewWriter(db, trig, nil)

	if _, err := w.Send(context.Background(), "conv1", "u1", "offline", ""); err != nil {
		t.Fatal(err)
	}
	if trig.count() != 0 {
		t.Errorf("trigger calls = %d, want 0", trig.count())
	}
	pending, _ := db.PendingCount()
	if pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestSendGeneratesDistinctIDs(t *testing.T) {
	db := testDB(t)
	w := NewWriter(db, nil, nil)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		msg, err := w.Send(context.Background(), "conv1", "u1", "same text", "")
		if err != nil {
			t.Fatal(err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate temp id %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestSendRequiresConversation(t *testing.T) {
	w := NewWriter(testDB(t), nil, nil)
	if _, err := w.Send(context.Background(), "", "u1", "hi", "tok"); !errors.Is(err, ErrNoConversation) {
		t.Errorf("err = %v, want ErrNoConversation", err)
	}
}

func TestRetry(t *testing.T) {
	db := testDB(t)
	trig := &mockTrigger{}
	w := NewWriter(db, trig, nil)

	msg, err := w.Send(context.Background(), "conv1", "u1", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Retry(context.Background(), msg.ID, "tok"); !errors.Is(err, store.ErrNotFailed) {
		t.Errorf("retry pending: err = %v, want ErrNotFailed", err)
	}
	if _, err := w.Retry(context.Background(), "missing", "tok"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("retry missing: err = %v, want ErrNotFound", err)
	}

	if err := db.MarkFailed(msg.ID, "rejected"); err != nil {
		t.Fatal(err)
	}
	retried, err := w.Retry(context.Background(), msg.ID, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != store.StatusPending || retried.Attempts != 0 {
		t.Errorf("got %+v, want pending with attempts reset", retried)
	}
	if trig.count() != 1 {
		t.Errorf("trigger calls = %d, want 1", trig.count())
	}
}
