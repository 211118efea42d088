package store

import "errors"

// Status is the synchronization status of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// TempIDPrefix prefixes client-generated ids of messages that were never
// confirmed by the server. Server ids never carry it.
const TempIDPrefix = "local-"

// Conversation kinds. Advisory only.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotFailed is returned when retrying a message that is not failed.
	ErrNotFailed = errors.New("store: message is not failed")
)

// Conversation is the local mirror of a server chat room.
type Conversation struct {
	ID           string `db:"id"`
	DisplayName  string `db:"display_name"`
	Kind         string `db:"kind"`
	LastSyncedAt int64  `db:"last_synced_at"` // watermark, epoch ms of the newest pulled message
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

// Message is a conversation message. ID is a temporary client id while
// pending and the server id once synced.
type Message struct {
	ID             string `db:"id"`
	ConversationID string `db:"conversation_id"`
	SenderID       string `db:"sender_id"`
	Content        string `db:"content"`
	CreatedAt      int64  `db:"created_at"`
	Status         Status `db:"status"`
	Attempts       int    `db:"attempts"`
	LastError      string `db:"last_error"`
	UpdatedAt      int64  `db:"updated_at"`
}

// Less reports whether m sorts before o in conversation order.
func (m *Message) Less(o *Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.ID < o.ID
}
