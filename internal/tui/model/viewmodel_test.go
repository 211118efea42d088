package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeDaemon struct {
	mu       sync.Mutex
	openErr  error
	sendErr  error
	closed   []string
	retried  []string
	sent     []string
	snapshot chan []store.Message
	observed chan string
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		snapshot: make(chan []store.Message, 4),
		observed: make(chan string, 4),
	}
}

func (f *fakeDaemon) Status(context.Context) (api.Status, error) {
	return api.Status{Profile: "main", State: "ONLINE"}, nil
}

func (f *fakeDaemon) Send(_ context.Context, conv, content string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, conv+":"+content)
	return &store.Message{ID: "local-1", ConversationID: conv, Content: content, Status: store.StatusPending}, nil
}

func (f *fakeDaemon) Sync(_ context.Context, conv string) (intsync.Result, error) {
	return intsync.Result{Pushed: 1, Pulled: 2}, nil
}

func (f *fakeDaemon) Retry(_ context.Context, id string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return &store.Message{ID: id, Status: store.StatusPending}, nil
}

func (f *fakeDaemon) Open(context.Context, string) error {
	return f.openErr
}

func (f *fakeDaemon) CloseConversation(_ context.Context, conv string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, conv)
	return nil
}

func (f *fakeDaemon) Observe(ctx context.Context, conv string, fn func([]store.Message) error) error {
	f.observed <- conv
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case msgs := <-f.snapshot:
			if err := fn(msgs); err != nil {
				return err
			}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenStreamsSnapshots(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	defer vm.Stop()
	ctx := context.Background()

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if vm.Active() != "c1" {
		t.Fatalf("active = %q, want c1", vm.Active())
	}
	<-d.observed

	d.snapshot <- []store.Message{{ID: "srv-1", ConversationID: "c1", Content: "hi", Status: store.StatusSynced}}
	waitFor(t, "snapshot", func() bool { return len(vm.Messages()) == 1 })

	if err := vm.Send(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if len(d.sent) != 1 || d.sent[0] != "c1:hello" {
		t.Errorf("sent = %v", d.sent)
	}

	// Switching conversations replaces the stream.
	if err := vm.Open(ctx, "c2"); err != nil {
		t.Fatal(err)
	}
	<-d.observed
	if vm.Active() != "c2" || len(vm.Messages()) != 0 {
		t.Errorf("after switch: active=%q messages=%d", vm.Active(), len(vm.Messages()))
	}
}

func TestOpenWithoutTokenWarns(t *testing.T) {
	d := newFakeDaemon()
	d.openErr = status.Error(codes.FailedPrecondition, "sync: auth token required")
	vm := NewViewModel(d)
	defer vm.Stop()

	if err := vm.Open(context.Background(), "c1"); err != nil {
		t.Fatalf("Open() error = %v, want nil for missing token", err)
	}
	flash := vm.Flash.Current()
	if flash == nil || flash.Level != ui.FlashWarn {
		t.Fatalf("flash = %+v, want warning", flash)
	}
	if vm.Active() != "c1" {
		t.Errorf("active = %q, want c1", vm.Active())
	}
}

func TestOpenFailure(t *testing.T) {
	d := newFakeDaemon()
	d.openErr = status.Error(codes.InvalidArgument, "conversation_id is required")
	vm := NewViewModel(d)

	if err := vm.Open(context.Background(), ""); err == nil {
		t.Fatal("Open() should fail")
	}
	if vm.Active() != "" {
		t.Errorf("active = %q after failed open", vm.Active())
	}
}

func TestLeaveClosesLiveFeed(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	ctx := context.Background()

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	<-d.observed
	if err := vm.Leave(ctx); err != nil {
		t.Fatal(err)
	}
	if vm.Active() != "" {
		t.Errorf("active = %q after leave", vm.Active())
	}
	if len(d.closed) != 1 || d.closed[0] != "c1" {
		t.Errorf("closed = %v, want [c1]", d.closed)
	}
	if err := vm.Send(ctx, "late"); err == nil {
		t.Error("Send() without an open conversation should fail")
	}
}

func TestRetryLastFailed(t *testing.T) {
	d := newFakeDaemon()
	vm := NewViewModel(d)
	defer vm.Stop()
	ctx := context.Background()

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	<-d.observed
	d.snapshot <- []store.Message{
		{ID: "local-a", Status: store.StatusFailed},
		{ID: "srv-1", Status: store.StatusSynced},
		{ID: "local-b", Status: store.StatusFailed},
	}
	waitFor(t, "snapshot", func() bool { return len(vm.Messages()) == 3 })

	if err := vm.RetryLastFailed(ctx); err != nil {
		t.Fatal(err)
	}
	if len(d.retried) != 1 || d.retried[0] != "local-b" {
		t.Errorf("retried = %v, want [local-b]", d.retried)
	}
}

func TestSendErrorAndSyncFlash(t *testing.T) {
	d := newFakeDaemon()
	d.sendErr = errors.New("boom")
	vm := NewViewModel(d)
	defer vm.Stop()
	ctx := context.Background()

	if err := vm.Open(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := vm.Send(ctx, "x"); err == nil {
		t.Error("Send() should surface the daemon error")
	}

	if err := vm.Sync(ctx, ""); err != nil {
		t.Fatal(err)
	}
	flash := vm.Flash.Current()
	if flash == nil || flash.Text != "synced all: pushed 1, pulled 2" {
		t.Errorf("flash = %+v", flash)
	}
}

func TestRefresh(t *testing.T) {
	vm := NewViewModel(newFakeDaemon())
	calls := 0
	vm.SetOnChange(func() { calls++ })
	if err := vm.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := vm.Status()
	if st == nil || st.Profile != "main" {
		t.Fatalf("status = %+v", st)
	}
	if calls != 1 {
		t.Errorf("onChange calls = %d, want 1", calls)
	}
}
