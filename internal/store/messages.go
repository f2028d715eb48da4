package store

import (
	"time"

	"github.com/google/uuid"
)

// AppendMessage writes a message into the (ownerID, peerID) mailbox
// partition and returns the generated document id. The caller supplies the
// timestamp so that mirrored copies of one logical message share it.
func (db *DB) AppendMessage(ownerID, peerID string, m *Message) (string, error) {
	docID := uuid.NewString()
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (owner_id, peer_id, doc_id, from_id, to_id, body, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ownerID, peerID, docID, m.FromID, m.ToID, m.Body, m.Timestamp, now)
	if err != nil {
		return "", err
	}
	return docID, nil
}

// ListMessages returns the partition's messages in timestamp-ascending order
// using keyset pagination: only messages with timestamp > afterTs are
// returned, oldest first.
func (db *DB) ListMessages(ownerID, peerID string, afterTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT doc_id, from_id, to_id, body, timestamp
		FROM messages
		WHERE owner_id = ? AND peer_id = ? AND timestamp > ?
		ORDER BY timestamp ASC, created_at ASC
		LIMIT ?`, ownerID, peerID, afterTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.DocID, &m.FromID, &m.ToID, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of records in one mailbox partition.
func (db *DB) CountMessages(ownerID, peerID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE owner_id = ? AND peer_id = ?`,
		ownerID, peerID).Scan(&n)
	return n, err
}
