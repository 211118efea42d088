package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

const conversationColumns = `id, display_name, kind, last_synced_at, created_at, updated_at`

// UpsertConversation inserts or updates a conversation record. Empty display
// names and kinds keep the stored values, and last_synced_at only moves forward.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	kind := c.Kind
	if kind == "" {
		kind = KindDirect
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, display_name, kind, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE conversations.display_name END,
			kind = CASE WHEN ? != '' THEN excluded.kind ELSE conversations.kind END,
			last_synced_at = MAX(conversations.last_synced_at, excluded.last_synced_at),
			updated_at = excluded.updated_at`,
		c.ID, c.DisplayName, kind, c.LastSyncedAt, now, now, c.Kind)
	return err
}

// GetConversation returns a single conversation by id, or nil if it does not exist.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.Get(&c, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns all conversations, most recently updated first.
func (db *DB) ListConversations() ([]Conversation, error) {
	var convs []Conversation
	err := db.Select(&convs, `SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, id ASC`)
	return convs, err
}

// EnsureConversation creates an empty conversation row if none exists.
func (db *DB) EnsureConversation(id string) error {
	return ensureConversation(db, id, time.Now().UnixMilli())
}

func ensureConversation(ex sqlx.Execer, id string, now int64) error {
	_, err := ex.Exec(`
		INSERT INTO conversations (id, kind, last_synced_at, created_at, updated_at)
		VALUES (?, 'direct', 0, ?, ?)
		ON CONFLICT(id) DO NOTHING`, id, now, now)
	return err
}

func advanceWatermark(ex sqlx.Execer, id string, watermark, now int64) error {
	_, err := ex.Exec(`
		INSERT INTO conversations (id, kind, last_synced_at, created_at, updated_at)
		VALUES (?, 'direct', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_synced_at = MAX(conversations.last_synced_at, excluded.last_synced_at),
			updated_at = excluded.updated_at`, id, watermark, now, now)
	return err
}
