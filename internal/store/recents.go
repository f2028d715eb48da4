package store

import (
	"database/sql"
	"time"
)

// UpsertRecent replaces the owner's summary for one counterpart. Every field
// is overwritten; summaries are never merged. Returns true when this call
// inserted the row, so callers can tag the feed event added vs modified. The
// insert itself decides created, so concurrent upserts for the same pair
// yield exactly one created=true.
func (db *DB) UpsertRecent(r *ConversationSummary) (created bool, err error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO recent_messages (owner_id, counterpart_id, from_id, to_id, body, avatar, email, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, counterpart_id) DO NOTHING`,
		r.OwnerID, r.CounterpartID, r.FromID, r.ToID, r.Body, r.Avatar, r.Email, r.Timestamp, now)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 1 {
		return true, nil
	}

	// Row already exists: overwrite it wholesale.
	_, err = db.Exec(`
		UPDATE recent_messages SET
			from_id = ?, to_id = ?, body = ?, avatar = ?, email = ?, timestamp = ?, updated_at = ?
		WHERE owner_id = ? AND counterpart_id = ?`,
		r.FromID, r.ToID, r.Body, r.Avatar, r.Email, r.Timestamp, now,
		r.OwnerID, r.CounterpartID)
	return false, err
}

// ListRecents returns the owner's summaries ordered by timestamp ascending,
// the order the change feed replays them in on subscription.
func (db *DB) ListRecents(ownerID string) ([]ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT owner_id, counterpart_id, from_id, to_id, body, avatar, email, timestamp
		FROM recent_messages
		WHERE owner_id = ?
		ORDER BY timestamp ASC, updated_at ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recents []ConversationSummary
	for rows.Next() {
		var r ConversationSummary
		if err := rows.Scan(&r.OwnerID, &r.CounterpartID, &r.FromID, &r.ToID, &r.Body, &r.Avatar, &r.Email, &r.Timestamp); err != nil {
			return nil, err
		}
		recents = append(recents, r)
	}
	return recents, rows.Err()
}

// GetRecent returns one summary, or nil when the owner has none for that
// counterpart.
func (db *DB) GetRecent(ownerID, counterpartID string) (*ConversationSummary, error) {
	var r ConversationSummary
	err := db.QueryRow(`
		SELECT owner_id, counterpart_id, from_id, to_id, body, avatar, email, timestamp
		FROM recent_messages
		WHERE owner_id = ? AND counterpart_id = ?`, ownerID, counterpartID).
		Scan(&r.OwnerID, &r.CounterpartID, &r.FromID, &r.ToID, &r.Body, &r.Avatar, &r.Email, &r.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
