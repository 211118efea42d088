package readmodel

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// eventBuffer is the per-observer change event buffer. Overflowing it is
// harmless: any queued event re-reads the whole conversation.
const eventBuffer = 64

// Model is the reactive read side of the store.
type Model struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a read model over db. The store must publish its change feed
// on b (see store.DB.SetPublisher).
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{db: db, bus: b, logger: logger}
}

// Messages returns the current ordered messages of a conversation.
func (m *Model) Messages(conversationID string) ([]store.Message, error) {
	return m.db.ListMessages(conversationID)
}

// Observe streams ordered snapshots of a conversation: the current one right
// away, then a fresh one after every change. A slow reader only ever sees the
// latest snapshot. The channel is closed when ctx ends.
func (m *Model) Observe(ctx context.Context, conversationID string) (<-chan []store.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("observe: conversation id required")
	}

	// Subscribe before the first read so no change slips in between.
	events, unsub := m.bus.Subscribe(bus.ConversationTopic(conversationID), eventBuffer)
	snapshot, err := m.db.ListMessages(conversationID)
	if err != nil {
		unsub()
		return nil, fmt.Errorf("observe %s: %w", conversationID, err)
	}

	out := make(chan []store.Message, 1)
	out <- snapshot

	go func() {
		defer close(out)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-events:
				if change, ok := evt.Payload.(bus.ConversationChanged); ok && change.ConversationID != conversationID {
					continue
				}
				for len(events) > 0 {
					<-events
				}

				snapshot, err := m.db.ListMessages(conversationID)
				if err != nil {
					m.logger.Error("failed to refresh conversation snapshot",
						zap.String("conversation_id", conversationID), zap.Error(err))
					continue
				}
				// Replace an unread snapshot instead of queueing behind it.
				select {
				case <-out:
				default:
				}
				out <- snapshot
			}
		}
	}()
	return out, nil
}
