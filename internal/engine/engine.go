// Package engine composes the store, outbox, reconciler, scheduler, live feed
// and read model into the surface used by the daemon API.
package engine

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/readmodel"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// Remote is the server side of the engine. Implemented by *remote.Client.
type Remote interface {
	intsync.Remote
	live.Dialer
}

// Options configures an Engine.
type Options struct {
	Token              string
	UserID             string
	MaxPushAttempts    int
	MaxConcurrentSyncs int
	Live               live.Options
}

// Engine is the offline-first chat sync engine of one profile.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	logger     *zap.Logger
	token      string
	userID     string
	outbox     *outbox.Writer
	reconciler *intsync.Reconciler
	scheduler  *intsync.Scheduler
	live       *live.Manager
	reads      *readmodel.Model
}

// New wires an engine over a migrated database. The store's change feed is
// routed to b.
func New(db *store.DB, b *bus.Bus, r Remote, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	db.SetPublisher(b)

	reconciler := intsync.NewReconciler(db, r, opts.MaxPushAttempts, logger)
	scheduler := intsync.NewScheduler(reconciler, db, b, opts.MaxConcurrentSyncs, logger)
	lm := live.NewManager(r, db, scheduler, b, opts.Live, logger)
	lm.SetEchoFilter(reconciler)
	return &Engine{
		db:         db,
		bus:        b,
		logger:     logger,
		token:      opts.Token,
		userID:     opts.UserID,
		outbox:     outbox.NewWriter(db, scheduler, logger),
		reconciler: reconciler,
		scheduler:  scheduler,
		live:       lm,
		reads:      readmodel.New(db, b, logger),
	}
}

// Send stores a pending message authored by the configured user and
// schedules a sync. It never waits for the network.
func (e *Engine) Send(ctx context.Context, conversationID, content string) (*store.Message, error) {
	return e.outbox.Send(ctx, conversationID, e.userID, content, e.token)
}

// Retry re-queues a failed message.
func (e *Engine) Retry(ctx context.Context, messageID string) (*store.Message, error) {
	return e.outbox.Retry(ctx, messageID, e.token)
}

// Sync reconciles one conversation in the foreground.
func (e *Engine) Sync(ctx context.Context, conversationID string) (intsync.Result, error) {
	if conversationID == "" {
		return intsync.Result{}, fmt.Errorf("sync: conversation id required")
	}
	return e.reconciler.Sync(ctx, conversationID, e.token)
}

// SyncAll reconciles every known conversation.
func (e *Engine) SyncAll(ctx context.Context) (intsync.Result, error) {
	return e.scheduler.SyncAll(ctx, e.token)
}

// Flush schedules background syncs for conversations with pending messages.
func (e *Engine) Flush() {
	e.scheduler.Flush(e.token)
}

// Observe streams ordered snapshots of a conversation until ctx ends.
func (e *Engine) Observe(ctx context.Context, conversationID string) (<-chan []store.Message, error) {
	return e.reads.Observe(ctx, conversationID)
}

// Messages returns the ordered messages of a conversation.
func (e *Engine) Messages(conversationID string) ([]store.Message, error) {
	return e.reads.Messages(conversationID)
}

// Open makes a conversation active: its live feed is connected and an
// initial sync is scheduled. Without a token the conversation is still
// created locally and intsync.ErrNoToken is returned.
func (e *Engine) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("open: conversation id required")
	}
	if err := e.db.EnsureConversation(conversationID); err != nil {
		return fmt.Errorf("open %s: %w", conversationID, err)
	}
	if e.token == "" {
		return intsync.ErrNoToken
	}
	if err := e.live.Open(ctx, conversationID, e.token); err != nil {
		return fmt.Errorf("open %s: %w", conversationID, err)
	}
	e.scheduler.Trigger(conversationID, e.token)
	e.logger.Info("conversation opened", zap.String("conversation_id", conversationID))
	return nil
}

// Close disconnects the live feed of a conversation. Local data and pending
// messages are kept.
func (e *Engine) Close(conversationID string) {
	e.live.Close(conversationID)
	e.logger.Info("conversation closed", zap.String("conversation_id", conversationID))
}

// IsOpen reports whether the conversation's live feed is active.
func (e *Engine) IsOpen(conversationID string) bool {
	return e.live.IsOpen(conversationID)
}

// OpenConversations lists conversations with an active live feed.
func (e *Engine) OpenConversations() []string {
	return e.live.OpenConversations()
}

// Conversations lists locally known conversations.
func (e *Engine) Conversations() ([]store.Conversation, error) {
	return e.db.ListConversations()
}

// PendingCount returns the number of messages waiting to be pushed.
func (e *Engine) PendingCount() (int64, error) {
	return e.db.PendingCount()
}

// HasToken reports whether remote operations can run.
func (e *Engine) HasToken() bool {
	return e.token != ""
}

// SetReporter installs a callback for background sync outcomes.
func (e *Engine) SetReporter(fn intsync.ReportFunc) {
	e.scheduler.SetReporter(fn)
}

// Shutdown closes every live feed and waits for background syncs to stop.
func (e *Engine) Shutdown() {
	e.live.CloseAll()
	e.scheduler.Stop()
}
