package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/matheus3301/chatsync/internal/bus"
	_ "github.com/mattn/go-sqlite3"
)

// Publisher receives the store's change feed.
type Publisher interface {
	Publish(evt bus.Event)
}

// DB wraps the SQLite database holding conversations and messages.
// Every committed mutation is announced on the configured Publisher.
type DB struct {
	*sqlx.DB
	pub Publisher
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// SetPublisher installs the change feed sink. Must be called before the
// store is shared between goroutines.
func (db *DB) SetPublisher(p Publisher) {
	db.pub = p
}

func (db *DB) notify(conversationID string, messageIDs ...string) {
	if db.pub == nil || conversationID == "" {
		return
	}
	db.pub.Publish(bus.Event{
		Kind: bus.ConversationChangedKind(conversationID),
		Payload: bus.ConversationChanged{
			ConversationID: conversationID,
			MessageIDs:     messageIDs,
		},
	})
}
