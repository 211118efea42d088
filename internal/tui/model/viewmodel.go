package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Daemon is the part of the daemon client the view model drives.
type Daemon interface {
	Status(ctx context.Context) (api.Status, error)
	Send(ctx context.Context, conversationID, content string) (*store.Message, error)
	Sync(ctx context.Context, conversationID string) (intsync.Result, error)
	Retry(ctx context.Context, messageID string) (*store.Message, error)
	Open(ctx context.Context, conversationID string) error
	CloseConversation(ctx context.Context, conversationID string) error
	Observe(ctx context.Context, conversationID string, fn func([]store.Message) error) error
}

// ViewModel caches daemon state for the views and signals when it changed.
// Callbacks run on background goroutines.
type ViewModel struct {
	mu sync.RWMutex

	daemon   Daemon
	status   *api.Status
	active   string
	messages []store.Message
	stopObs  context.CancelFunc
	obsDone  chan struct{}
	onChange func()

	Flash *ui.FlashModel
}

// NewViewModel creates a view model over d.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon:   d,
		Flash:    ui.NewFlashModel(),
		onChange: func() {},
	}
}

// SetOnChange sets the callback fired after state changes.
func (vm *ViewModel) SetOnChange(fn func()) {
	vm.mu.Lock()
	vm.onChange = fn
	vm.mu.Unlock()
}

func (vm *ViewModel) changed() {
	vm.mu.RLock()
	fn := vm.onChange
	vm.mu.RUnlock()
	fn()
}

// Refresh fetches the daemon status. On error the cached status is dropped so
// views can show the daemon as unreachable.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	st, err := vm.daemon.Status(ctx)
	vm.mu.Lock()
	if err != nil {
		vm.status = nil
	} else {
		vm.status = &st
	}
	vm.mu.Unlock()
	vm.changed()
	return err
}

// Status returns the last fetched status, or nil.
func (vm *ViewModel) Status() *api.Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	st := *vm.status
	return &st
}

// Active returns the open conversation, or empty.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Messages returns the latest snapshot of the open conversation.
func (vm *ViewModel) Messages() []store.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// Open makes conversationID the active conversation: the daemon connects its
// live feed and snapshots stream into Messages. Without an auth token the
// conversation still opens with local messages only.
func (vm *ViewModel) Open(ctx context.Context, conversationID string) error {
	if err := vm.daemon.Open(ctx, conversationID); err != nil {
		if status.Code(err) != codes.FailedPrecondition {
			return err
		}
		vm.Flash.Warn("offline: " + status.Convert(err).Message())
	}

	vm.stopObserving()
	obsCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	vm.mu.Lock()
	vm.active = conversationID
	vm.messages = nil
	vm.stopObs = cancel
	vm.obsDone = done
	vm.mu.Unlock()

	go func() {
		defer close(done)
		err := vm.daemon.Observe(obsCtx, conversationID, func(msgs []store.Message) error {
			vm.mu.Lock()
			if vm.active == conversationID {
				vm.messages = msgs
			}
			vm.mu.Unlock()
			vm.changed()
			return nil
		})
		if err != nil && obsCtx.Err() == nil && status.Code(err) != codes.Canceled {
			vm.Flash.Err("observe "+conversationID, err)
			vm.changed()
		}
	}()
	vm.changed()
	return nil
}

// Leave stops following the active conversation and closes its live feed.
func (vm *ViewModel) Leave(ctx context.Context) error {
	vm.stopObserving()
	vm.mu.Lock()
	conv := vm.active
	vm.active = ""
	vm.messages = nil
	vm.mu.Unlock()
	vm.changed()
	if conv == "" {
		return nil
	}
	return vm.daemon.CloseConversation(ctx, conv)
}

// Stop ends the snapshot stream without closing the live feed.
func (vm *ViewModel) Stop() {
	vm.stopObserving()
}

func (vm *ViewModel) stopObserving() {
	vm.mu.Lock()
	cancel, done := vm.stopObs, vm.obsDone
	vm.stopObs, vm.obsDone = nil, nil
	vm.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Send queues text in the active conversation. The message shows up through
// the snapshot stream.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	conv := vm.Active()
	if conv == "" {
		return errors.New("no conversation open")
	}
	if _, err := vm.daemon.Send(ctx, conv, text); err != nil {
		return err
	}
	return nil
}

// RetryLastFailed re-queues the newest failed message of the active
// conversation.
func (vm *ViewModel) RetryLastFailed(ctx context.Context) error {
	msgs := vm.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status != store.StatusFailed {
			continue
		}
		if _, err := vm.daemon.Retry(ctx, msgs[i].ID); err != nil {
			return err
		}
		vm.Flash.Info("retrying message " + msgs[i].ID)
		return nil
	}
	vm.Flash.Info("no failed messages")
	return nil
}

// Sync reconciles conversationID, or every conversation when it is empty,
// and reports the outcome as a flash message.
func (vm *ViewModel) Sync(ctx context.Context, conversationID string) error {
	res, err := vm.daemon.Sync(ctx, conversationID)
	if err != nil {
		return err
	}
	target := conversationID
	if target == "" {
		target = "all"
	}
	msg := fmt.Sprintf("synced %s: pushed %d, pulled %d", target, res.Pushed, res.Pulled)
	if res.Failed > 0 {
		vm.Flash.Warn(fmt.Sprintf("%s, failed %d", msg, res.Failed))
	} else {
		vm.Flash.Info(msg)
	}
	return nil
}
