// Package fanout writes a sent message into both participants' mailbox
// partitions and refreshes the sender's conversation summary.
package fanout

import (
	"context"
	"time"

	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/store"
	"go.uber.org/zap"
)

// Store is the slice of the document store the writer needs.
type Store interface {
	AppendMessage(ownerID, peerID string, m *store.Message) (string, error)
	UpsertRecent(r *store.ConversationSummary) (created bool, err error)
	GetUser(uid string) (*store.User, error)
}

// SendResult reports the outcome of a completed send.
type SendResult struct {
	MessageID string // doc id in the sender's outgoing partition
	MirrorID  string // doc id in the recipient's incoming partition
	Timestamp int64
}

// Writer performs the per-send fan-out. The two mailbox writes are
// independent and non-transactional: either can fail while the other lands,
// and nothing is rolled back or retried. The summary upsert only runs after
// the outgoing write succeeded.
type Writer struct {
	db     Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewWriter creates a writer backed by the given store and change-feed bus.
func NewWriter(db Store, b *bus.Bus, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, bus: b, logger: logger}
}

// Send writes text from fromID to toID: once into the (fromID, toID)
// partition, once with its own identity into (toID, fromID), then upserts
// fromID's summary keyed by toID and publishes the matching feed event.
// Sending to oneself is allowed and writes twice into the single (u, u)
// partition.
//
// On failure the returned error is a *WriteFailed naming the first step that
// failed; the result still carries the doc ids of whatever did land.
func (w *Writer) Send(ctx context.Context, fromID, toID, text string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts := time.Now().UnixMilli()
	msg := &store.Message{FromID: fromID, ToID: toID, Body: text, Timestamp: ts}
	res := &SendResult{Timestamp: ts}

	var firstErr *WriteFailed

	outID, err := w.db.AppendMessage(fromID, toID, msg)
	if err != nil {
		w.logger.Error("outgoing write failed", zap.Error(err), zap.String("from", fromID), zap.String("to", toID))
		firstErr = &WriteFailed{Step: StepOutgoing, Err: err}
	} else {
		res.MessageID = outID
	}

	// The mirror write is attempted regardless of the outgoing outcome; the
	// two partitions are owned independently.
	mirrorID, err := w.db.AppendMessage(toID, fromID, msg)
	if err != nil {
		w.logger.Error("incoming write failed", zap.Error(err), zap.String("from", fromID), zap.String("to", toID))
		if firstErr == nil {
			firstErr = &WriteFailed{Step: StepIncoming, Err: err}
		}
	} else {
		res.MirrorID = mirrorID
	}

	if firstErr != nil && firstErr.Step == StepOutgoing {
		return res, firstErr
	}

	if err := w.upsertSummary(fromID, toID, text, ts); err != nil {
		w.logger.Error("summary upsert failed", zap.Error(err), zap.String("owner", fromID), zap.String("counterpart", toID))
		if firstErr == nil {
			firstErr = &WriteFailed{Step: StepSummary, Err: err}
		}
	}

	if firstErr != nil {
		return res, firstErr
	}
	return res, nil
}

// upsertSummary replaces the sender's summary for the counterpart with the
// just-sent message, enriched with the counterpart's display metadata, and
// publishes the change on the feed.
func (w *Writer) upsertSummary(ownerID, counterpartID, text string, ts int64) error {
	summary := &store.ConversationSummary{
		OwnerID:       ownerID,
		CounterpartID: counterpartID,
		FromID:        ownerID,
		ToID:          counterpartID,
		Body:          text,
		Timestamp:     ts,
	}

	peer, err := w.db.GetUser(counterpartID)
	if err != nil {
		return err
	}
	if peer != nil {
		summary.Avatar = peer.Avatar
		summary.Email = peer.Email
	} else {
		w.logger.Warn("counterpart not in directory, summary has no display metadata",
			zap.String("counterpart", counterpartID))
	}

	created, err := w.db.UpsertRecent(summary)
	if err != nil {
		return err
	}

	change := bus.ChangeModified
	if created {
		change = bus.ChangeAdded
	}
	w.bus.Publish(bus.Event{
		Kind:      bus.RecentKind(ownerID, change),
		Timestamp: time.Now(),
		Payload:   summary,
	})
	return nil
}
