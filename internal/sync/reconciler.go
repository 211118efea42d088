package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is the number of transient push failures after which a
// pending message is marked failed.
const DefaultMaxAttempts = 5

// ErrNoToken is returned when a sync is requested without an auth token.
var ErrNoToken = errors.New("sync: auth token required")

// Remote is the server API used by the reconciler.
type Remote interface {
	CreateMessage(ctx context.Context, token, chatID, content string) (*remote.Message, error)
	ListMessagesAfter(ctx context.Context, token, chatID string, after int64) (*remote.Batch, error)
}

// Result summarizes one reconciliation run.
type Result struct {
	Pushed int
	Pulled int
	Failed int
}

// Reconciler pushes pending messages of a conversation to the server and
// pulls everything newer than the conversation watermark.
type Reconciler struct {
	db          *store.DB
	remote      Remote
	logger      *zap.Logger
	tracer      trace.Tracer
	maxAttempts int

	mu       sync.Mutex
	inflight map[string]struct{}
	pushing  map[string]store.Message
}

// NewReconciler creates a new reconciler. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewReconciler(db *store.DB, r Remote, maxAttempts int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Reconciler{
		db:          db,
		remote:      r,
		logger:      logger,
		tracer:      otel.Tracer("chatsync/sync"),
		maxAttempts: maxAttempts,
		inflight:    make(map[string]struct{}),
		pushing:     make(map[string]store.Message),
	}
}

// Sync runs the push phase then the pull phase for one conversation.
// Push failures are counted in Result.Failed and never returned, except a
// refused token, which stops the run without touching the pending messages.
// A pull failure leaves the watermark untouched and is returned.
func (r *Reconciler) Sync(ctx context.Context, conversationID, token string) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "sync.reconcile",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	started := time.Now()
	res, err := r.sync(ctx, conversationID, token)
	metrics.ObserveSync(started, res.Pushed, res.Pulled, err)

	span.SetAttributes(
		attribute.Int("pushed", res.Pushed),
		attribute.Int("pulled", res.Pulled),
		attribute.Int("failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (r *Reconciler) sync(ctx context.Context, conversationID, token string) (Result, error) {
	var res Result
	if conversationID == "" {
		return res, fmt.Errorf("sync: conversation id required")
	}
	if token == "" {
		return res, ErrNoToken
	}

	if err := r.push(ctx, conversationID, token, &res); err != nil {
		return res, err
	}
	if err := r.pull(ctx, conversationID, token, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Reconciler) push(ctx context.Context, conversationID, token string, res *Result) error {
	pending, err := r.db.ListPending(conversationID)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := pending[i].ID
		if !r.claim(id) {
			continue
		}
		pushed, err := r.pushOne(ctx, conversationID, token, id)
		r.release(id)
		if err != nil {
			var storeErr *storeError
			if errors.As(err, &storeErr) || ctx.Err() != nil {
				return err
			}
			if remote.IsUnauthorized(err) {
				metrics.IncPushFailure("unauthorized")
				r.logger.Warn("auth token refused, leaving messages pending",
					zap.String("conversation_id", conversationID), zap.Error(err))
				return fmt.Errorf("push %s: %w", conversationID, err)
			}
			res.Failed++
			continue
		}
		if pushed {
			res.Pushed++
		}
	}
	return nil
}

// storeError marks local database failures, which abort the run.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// pushOne sends a single pending message. It returns false with a nil error
// when the message was no longer pending.
func (r *Reconciler) pushOne(ctx context.Context, conversationID, token, id string) (bool, error) {
	m, err := r.db.GetMessage(id)
	if err != nil {
		return false, &storeError{fmt.Errorf("reload %s: %w", id, err)}
	}
	if m == nil || m.Status != store.StatusPending {
		return false, nil
	}

	r.track(m)
	defer r.untrack(m.ID)

	serverMsg, err := r.remote.CreateMessage(ctx, token, conversationID, m.Content)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if remote.IsUnauthorized(err) {
			return false, err
		}
		return false, r.recordFailure(m, err)
	}

	canonical := serverMsg.Record(conversationID)
	if canonical.SenderID == "" {
		canonical.SenderID = m.SenderID
	}
	if err := r.db.ConfirmMessage(m.ID, &canonical); err != nil {
		return false, &storeError{fmt.Errorf("confirm %s as %s: %w", m.ID, canonical.ID, err)}
	}
	r.logger.Debug("message confirmed",
		zap.String("conversation_id", conversationID),
		zap.String("temp_id", m.ID),
		zap.String("server_id", canonical.ID))
	return true, nil
}

func (r *Reconciler) recordFailure(m *store.Message, pushErr error) error {
	fields := []zap.Field{
		zap.String("conversation_id", m.ConversationID),
		zap.String("msg_id", m.ID),
		zap.Error(pushErr),
	}
	if errors.Is(pushErr, remote.ErrMalformed) {
		metrics.IncMalformed("push")
	}

	if remote.IsPermanent(pushErr) {
		metrics.IncPushFailure("permanent")
		if err := r.db.MarkFailed(m.ID, pushErr.Error()); err != nil && !errors.Is(err, store.ErrNotFound) {
			return &storeError{fmt.Errorf("mark failed %s: %w", m.ID, err)}
		}
		r.logger.Warn("message rejected by server", fields...)
		return pushErr
	}

	metrics.IncPushFailure("transient")
	status, err := r.db.RecordPushFailure(m.ID, pushErr.Error(), r.maxAttempts)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return &storeError{fmt.Errorf("record failure %s: %w", m.ID, err)}
	}
	if status == store.StatusFailed {
		r.logger.Warn("message failed after max attempts", append(fields, zap.Int("max_attempts", r.maxAttempts))...)
	} else {
		r.logger.Info("push failed, message stays pending", fields...)
	}
	return pushErr
}

func (r *Reconciler) pull(ctx context.Context, conversationID, token string, res *Result) error {
	conv, err := r.db.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	var after int64
	if conv != nil {
		after = conv.LastSyncedAt
	}

	batch, err := r.remote.ListMessagesAfter(ctx, token, conversationID, after)
	if err != nil {
		return fmt.Errorf("pull %s: %w", conversationID, err)
	}
	for _, dropErr := range batch.Dropped {
		metrics.IncMalformed("pull")
		r.logger.Warn("dropping malformed pulled record",
			zap.String("conversation_id", conversationID), zap.Error(dropErr))
	}
	if len(batch.Messages) == 0 {
		return nil
	}

	records := make([]store.Message, len(batch.Messages))
	for i := range batch.Messages {
		records[i] = batch.Messages[i].Record(conversationID)
	}
	watermark, err := r.db.ApplyPull(conversationID, records)
	if err != nil {
		return fmt.Errorf("apply pull: %w", err)
	}
	res.Pulled = len(records)

	r.logger.Debug("pull applied",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", len(records)),
		zap.Int64("after", after),
		zap.Int64("watermark", watermark))
	return nil
}

func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Reconciler) track(m *store.Message) {
	r.mu.Lock()
	r.pushing[m.ID] = *m
	r.mu.Unlock()
}

func (r *Reconciler) untrack(id string) {
	r.mu.Lock()
	delete(r.pushing, id)
	r.mu.Unlock()
}

// InFlight reports whether a message with this content is being pushed to the
// conversation and not yet confirmed. Sender ids are compared only when both
// are known.
func (r *Reconciler) InFlight(conversationID, senderID, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.pushing {
		if m.ConversationID != conversationID || m.Content != content {
			continue
		}
		if senderID == "" || m.SenderID == "" || m.SenderID == senderID {
			return true
		}
	}
	return false
}
