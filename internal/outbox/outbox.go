package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrEmptyContent is returned by Send for blank messages. Nothing is written.
	ErrEmptyContent = errors.New("outbox: message content is empty")
	// ErrNoConversation is returned by Send without a conversation id.
	ErrNoConversation = errors.New("outbox: conversation id is required")
)

// Trigger schedules a background sync of a conversation without blocking.
type Trigger interface {
	Trigger(conversationID, token string)
}

// Writer records locally authored messages as pending before any network
// round trip and hands the conversation to the sync scheduler.
type Writer struct {
	db      *store.DB
	trigger Trigger
	logger  *zap.Logger
	now     func() time.Time
}

// NewWriter creates a new outbox writer. trigger may be nil, in which case
// pending messages wait for the next explicit sync.
func NewWriter(db *store.DB, trigger Trigger, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		db:      db,
		trigger: trigger,
		logger:  logger,
		now:     time.Now,
	}
}

// NewTempID returns a fresh client-side message id.
func NewTempID() string {
	return store.TempIDPrefix + uuid.NewString()
}

// Send stores content as a pending message and returns it immediately. A
// sync of the conversation is triggered when token is not empty.
func (w *Writer) Send(ctx context.Context, conversationID, senderID, content, token string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if conversationID == "" {
		return nil, ErrNoConversation
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             NewTempID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      w.now().UnixMilli(),
		Status:         store.StatusPending,
	}
	if err := w.db.UpsertMessage(msg); err != nil {
		return nil, fmt.Errorf("store pending message: %w", err)
	}

	w.logger.Debug("message queued",
		zap.String("conversation_id", conversationID),
		zap.String("msg_id", msg.ID))

	w.fire(conversationID, token)
	return msg, nil
}

// Retry moves a failed message back to pending and triggers a sync.
func (w *Writer) Retry(ctx context.Context, messageID, token string) (*store.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := w.db.RetryMessage(messageID)
	if err != nil {
		return nil, fmt.Errorf("retry %s: %w", messageID, err)
	}

	w.logger.Info("message requeued",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("msg_id", msg.ID))

	w.fire(msg.ConversationID, token)
	return msg, nil
}

func (w *Writer) fire(conversationID, token string) {
	if w.trigger == nil || token == "" {
		return
	}
	w.trigger.Trigger(conversationID, token)
}
