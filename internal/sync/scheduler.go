package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds the number of syncs running at once.
const DefaultConcurrency = 4

// Syncer runs one reconciliation. Implemented by *Reconciler.
type Syncer interface {
	Sync(ctx context.Context, conversationID, token string) (Result, error)
}

// ReportFunc receives the outcome of every background sync.
type ReportFunc func(conversationID string, res Result, err error)

// Scheduler runs fire-and-forget syncs in the background. At most one sync
// runs per conversation; triggers arriving during a run cause exactly one
// follow-up run.
type Scheduler struct {
	syncer      Syncer
	db          *store.DB
	bus         *bus.Bus
	logger      *zap.Logger
	sem         *semaphore.Weighted
	concurrency int

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	runs    map[string]*run
	report  ReportFunc
	stopped bool
	wg      sync.WaitGroup
}

type run struct {
	token string
	dirty bool
}

// NewScheduler creates a scheduler. concurrency <= 0 selects DefaultConcurrency.
func NewScheduler(syncer Syncer, db *store.DB, b *bus.Bus, concurrency int, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		syncer:      syncer,
		db:          db,
		bus:         b,
		logger:      logger,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		concurrency: concurrency,
		ctx:         ctx,
		cancel:      cancel,
		runs:        make(map[string]*run),
	}
}

// SetReporter installs a callback invoked after every background sync.
func (s *Scheduler) SetReporter(fn ReportFunc) {
	s.mu.Lock()
	s.report = fn
	s.mu.Unlock()
}

// Trigger schedules a sync of the conversation and returns immediately.
// Empty tokens are ignored: the messages wait for the next trigger.
func (s *Scheduler) Trigger(conversationID, token string) {
	if conversationID == "" || token == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if r, ok := s.runs[conversationID]; ok {
		r.dirty = true
		r.token = token
		return
	}
	s.runs[conversationID] = &run{token: token}
	s.wg.Add(1)
	go s.loop(conversationID)
}

// Flush triggers a sync for every conversation holding pending messages.
func (s *Scheduler) Flush(token string) {
	ids, err := s.db.PendingConversations()
	if err != nil {
		s.logger.Error("failed to list pending conversations", zap.Error(err))
		return
	}
	for _, id := range ids {
		s.Trigger(id, token)
	}
}

// Running reports whether a sync of the conversation is running or queued.
func (s *Scheduler) Running(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[conversationID]
	return ok
}

func (s *Scheduler) loop(conversationID string) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		r := s.runs[conversationID]
		token := r.token
		r.dirty = false
		ctx := s.ctx
		s.mu.Unlock()

		s.runOnce(ctx, conversationID, token)

		s.mu.Lock()
		if !r.dirty || s.stopped {
			delete(s.runs, conversationID)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runOnce(ctx context.Context, conversationID, token string) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	res, err := s.syncer.Sync(ctx, conversationID, token)
	s.sem.Release(1)
	s.finish(conversationID, res, err)
}

func (s *Scheduler) finish(conversationID string, res Result, err error) {
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}

	fields := []zap.Field{
		zap.String("conversation_id", conversationID),
		zap.Int("pushed", res.Pushed),
		zap.Int("pulled", res.Pulled),
		zap.Int("failed", res.Failed),
	}
	report := bus.SyncReport{
		ConversationID: conversationID,
		Pushed:         res.Pushed,
		Pulled:         res.Pulled,
		Failed:         res.Failed,
	}
	kind := bus.KindSyncCompleted
	if err != nil {
		kind = bus.KindSyncFailed
		report.Err = err.Error()
		report.AuthFailed = errors.Is(err, ErrNoToken) || remote.IsUnauthorized(err)
		s.logger.Warn("sync failed", append(fields, zap.Error(err))...)
	} else if res.Pushed > 0 || res.Pulled > 0 || res.Failed > 0 {
		s.logger.Info("sync completed", fields...)
	} else {
		s.logger.Debug("sync completed", fields...)
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: report})
	}

	s.mu.Lock()
	fn := s.report
	s.mu.Unlock()
	if fn != nil {
		fn(conversationID, res, err)
	}
}

// SyncAll synchronously syncs every known conversation, including those that
// only hold pending messages, with bounded concurrency. Failures of single
// conversations do not stop the others and are returned joined.
func (s *Scheduler) SyncAll(ctx context.Context, token string) (Result, error) {
	if token == "" {
		return Result{}, ErrNoToken
	}

	convs, err := s.db.ListConversations()
	if err != nil {
		return Result{}, fmt.Errorf("list conversations: %w", err)
	}
	pending, err := s.db.PendingConversations()
	if err != nil {
		return Result{}, fmt.Errorf("list pending conversations: %w", err)
	}
	ids := pending
	for _, c := range convs {
		if !slices.Contains(ids, c.ID) {
			ids = append(ids, c.ID)
		}
	}

	var (
		mu    sync.Mutex
		total Result
		errs  []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			res, err := s.syncer.Sync(ctx, id, token)
			s.finish(id, res, err)

			mu.Lock()
			defer mu.Unlock()
			total.Pushed += res.Pushed
			total.Pulled += res.Pulled
			total.Failed += res.Failed
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return total, errors.Join(errs...)
}

// Stop cancels running syncs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
