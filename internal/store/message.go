package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// upsertMessageSQL inserts a message or updates its mutable fields. The WHERE
// clause skips rows that would not change, so RowsAffected reports real writes.
const upsertMessageSQL = `
	INSERT INTO messages (id, conversation_id, sender_id, content, created_at, status, attempts, last_error, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		sender_id = CASE WHEN excluded.sender_id != '' THEN excluded.sender_id ELSE messages.sender_id END,
		content = excluded.content,
		created_at = excluded.created_at,
		status = excluded.status,
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	WHERE messages.content IS NOT excluded.content
		OR messages.created_at IS NOT excluded.created_at
		OR messages.status IS NOT excluded.status
		OR messages.attempts IS NOT excluded.attempts
		OR messages.last_error IS NOT excluded.last_error
		OR (excluded.sender_id != '' AND messages.sender_id IS NOT excluded.sender_id)`

const messageColumns = `id, conversation_id, sender_id, content, created_at, status, attempts, last_error, updated_at`

func upsertMessage(ex sqlx.Execer, m *Message, now int64) (bool, error) {
	if m.ID == "" || m.ConversationID == "" {
		return false, fmt.Errorf("upsert message: id and conversation id are required")
	}
	if m.Status == "" {
		m.Status = StatusSynced
	}
	res, err := ex.Exec(upsertMessageSQL,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.CreatedAt, m.Status, m.Attempts, m.LastError, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertMessage inserts or updates a message by id (idempotent).
func (db *DB) UpsertMessage(m *Message) error {
	changed, err := upsertMessage(db, m, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if changed {
		db.notify(m.ConversationID, m.ID)
	}
	return nil
}

// DeleteMessage removes a message row. Deleting a missing row is not an error.
func (db *DB) DeleteMessage(id string) error {
	var conversationID string
	err := db.QueryRowx(`DELETE FROM messages WHERE id = ? RETURNING conversation_id`, id).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	db.notify(conversationID, id)
	return nil
}

// GetMessage returns a message by id, or nil if it does not exist.
func (db *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := db.Get(&m, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns every message of a conversation in (created_at, id) order.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	var msgs []Message
	err := db.Select(&msgs, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	return msgs, err
}

// ListPending returns the pending messages of a conversation in send order.
func (db *DB) ListPending(conversationID string) ([]Message, error) {
	var msgs []Message
	err := db.Select(&msgs, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC`, conversationID)
	return msgs, err
}

// ConfirmMessage replaces a pending message with its server-confirmed record.
// The canonical row is upserted as synced and, when the server issued a
// different id, the temporary row is deleted in the same transaction.
func (db *DB) ConfirmMessage(tempID string, canonical *Message) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	canonical.Status = StatusSynced
	canonical.Attempts = 0
	canonical.LastError = ""
	if _, err := upsertMessage(tx, canonical, now); err != nil {
		return fmt.Errorf("upsert confirmed %q: %w", canonical.ID, err)
	}

	var tempConversation string
	if tempID != canonical.ID {
		err := tx.QueryRowx(`DELETE FROM messages WHERE id = ? RETURNING conversation_id`, tempID).Scan(&tempConversation)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("delete temp %q: %w", tempID, err)
		}
	}

	if err := ensureConversation(tx, canonical.ConversationID, now); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	db.notify(canonical.ConversationID, canonical.ID, tempID)
	if tempConversation != "" && tempConversation != canonical.ConversationID {
		db.notify(tempConversation, tempID)
	}
	return nil
}

// ApplyPull upserts a batch of server messages as synced and advances the
// conversation watermark to the newest created_at of the batch, all in one
// transaction. The watermark never moves backwards. Returns the watermark
// after the call. An empty batch writes nothing.
func (db *DB) ApplyPull(conversationID string, msgs []Message) (int64, error) {
	if len(msgs) == 0 {
		conv, err := db.GetConversation(conversationID)
		if err != nil || conv == nil {
			return 0, err
		}
		return conv.LastSyncedAt, nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	var maxCreatedAt int64
	var changedIDs []string
	for i := range msgs {
		m := &msgs[i]
		m.ConversationID = conversationID
		m.Status = StatusSynced
		m.Attempts = 0
		m.LastError = ""
		changed, err := upsertMessage(tx, m, now)
		if err != nil {
			return 0, fmt.Errorf("upsert pulled %q: %w", m.ID, err)
		}
		if changed {
			changedIDs = append(changedIDs, m.ID)
		}
		if m.CreatedAt > maxCreatedAt {
			maxCreatedAt = m.CreatedAt
		}
	}

	if err := advanceWatermark(tx, conversationID, maxCreatedAt, now); err != nil {
		return 0, fmt.Errorf("advance watermark: %w", err)
	}

	var watermark int64
	if err := tx.Get(&watermark, `SELECT last_synced_at FROM conversations WHERE id = ?`, conversationID); err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	if len(changedIDs) > 0 {
		db.notify(conversationID, changedIDs...)
	}
	return watermark, nil
}

// RecordPushFailure counts a failed push attempt for a pending message and
// marks it failed once maxAttempts is reached. Returns the resulting status,
// or ErrNotFound when the message is no longer pending.
func (db *DB) RecordPushFailure(id, errMsg string, maxAttempts int) (Status, error) {
	var (
		status         Status
		conversationID string
	)
	err := db.QueryRowx(`
		UPDATE messages SET
			attempts = attempts + 1,
			last_error = ?,
			status = CASE WHEN attempts + 1 >= ? THEN 'failed' ELSE status END,
			updated_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING status, conversation_id`,
		errMsg, maxAttempts, time.Now().UnixMilli(), id).Scan(&status, &conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	db.notify(conversationID, id)
	return status, nil
}

// MarkFailed moves a pending message to failed.
func (db *DB) MarkFailed(id, errMsg string) error {
	var conversationID string
	err := db.QueryRowx(`
		UPDATE messages SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING conversation_id`,
		errMsg, time.Now().UnixMilli(), id).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	db.notify(conversationID, id)
	return nil
}

// RetryMessage moves a failed message back to pending with a fresh attempt
// budget. Returns ErrNotFound for unknown ids and ErrNotFailed when the
// message is not failed.
func (db *DB) RetryMessage(id string) (*Message, error) {
	var m Message
	err := db.QueryRowx(`
		UPDATE messages SET status = 'pending', attempts = 0, last_error = '', updated_at = ?
		WHERE id = ? AND status = 'failed'
		RETURNING `+messageColumns,
		time.Now().UnixMilli(), id).StructScan(&m)
	if errors.Is(err, sql.ErrNoRows) {
		existing, getErr := db.GetMessage(id)
		if getErr != nil {
			return nil, getErr
		}
		if existing == nil {
			return nil, ErrNotFound
		}
		return nil, ErrNotFailed
	}
	if err != nil {
		return nil, err
	}
	db.notify(m.ConversationID, m.ID)
	return &m, nil
}

// PendingConversations returns the ids of conversations with pending messages.
func (db *DB) PendingConversations() ([]string, error) {
	var ids []string
	err := db.Select(&ids, `SELECT DISTINCT conversation_id FROM messages WHERE status = 'pending' ORDER BY conversation_id`)
	return ids, err
}

// PendingCount returns the number of pending messages across conversations.
func (db *DB) PendingCount() (int64, error) {
	var count int64
	err := db.Get(&count, `SELECT COUNT(*) FROM messages WHERE status = 'pending'`)
	return count, err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.Get(&count, `SELECT COUNT(*) FROM messages`)
	return count, err
}
