package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Conversation change events use a
// per-conversation kind so readers can subscribe to a single conversation.
const (
	ConversationNamespace = "conversation/"

	KindSyncCompleted    = "sync.completed"
	KindSyncFailed       = "sync.failed"
	KindLiveConnected    = "live.connected"
	KindLiveDisconnected = "live.disconnected"
	KindLiveReconnecting = "live.reconnecting"
	KindLiveDropped      = "live.dropped"
	KindStatusChanged    = "status.changed"
)

// ConversationTopic is the subscription namespace that matches change events
// for exactly one conversation.
func ConversationTopic(conversationID string) string {
	return ConversationNamespace + conversationID + "/"
}

// ConversationChangedKind is the kind of the event published after messages
// of a conversation were written or deleted.
func ConversationChangedKind(conversationID string) string {
	return ConversationTopic(conversationID) + "changed"
}

// ConversationChanged is the payload of a conversation change event.
type ConversationChanged struct {
	ConversationID string
	MessageIDs     []string
}

// SyncReport is the payload of sync.completed and sync.failed events.
type SyncReport struct {
	ConversationID string
	Pushed         int
	Pulled         int
	Failed         int
	Err            string
	// AuthFailed is set when the run failed for lack of a usable token.
	AuthFailed bool
}

// LiveState is the payload of live.* events.
type LiveState struct {
	ConversationID string
	Attempt        int
	Delay          time.Duration
	Reason         string
}
