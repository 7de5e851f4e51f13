package store

import (
	"strings"
	"time"
)

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	return UpsertMessageIn(db, m)
}

// UpsertMessageIn is UpsertMessage running on e, which may be a transaction.
func UpsertMessageIn(e Execer, m *Message) error {
	now := time.Now().UnixMilli()
	_, err := e.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, body, kind, attachment_ref, from_me, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			attachment_ref = excluded.attachment_ref,
			timestamp = excluded.timestamp`,
		m.ChatID, m.MsgID, m.SenderID, m.Body, m.Kind, m.AttachmentRef, m.FromMe, m.Status, m.Timestamp, now)
	return err
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_id, msg_id, sender_id, body, kind, attachment_ref, from_me, status, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.Body, &m.Kind, &m.AttachmentRef, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// PruneMessages deletes every message of the chat whose msg_id is not in
// keep. Used when a mirrored snapshot no longer contains a message that was
// deleted remotely.
func (db *DB) PruneMessages(chatID string, keep []string) error {
	if len(keep) == 0 {
		_, err := db.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID)
		return err
	}
	placeholders := strings.Repeat("?,", len(keep)-1) + "?"
	args := make([]any, 0, len(keep)+1)
	args = append(args, chatID)
	for _, id := range keep {
		args = append(args, id)
	}
	_, err := db.Exec(`DELETE FROM messages WHERE chat_id = ? AND msg_id NOT IN (`+placeholders+`)`, args...)
	return err
}
