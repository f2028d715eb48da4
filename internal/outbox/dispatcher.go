// Package outbox drains queued sends and hands them to the fan-out writer,
// keeping the API's send path non-blocking.
package outbox

import (
	"context"
	"time"

	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/fanout"
	"github.com/elizkhv/quicktalk/internal/store"
	"go.uber.org/zap"
)

// Sender performs the actual fan-out for one message.
type Sender interface {
	Send(ctx context.Context, fromID, toID, text string) (*fanout.SendResult, error)
}

// Ack is the payload of a message.send_ack event.
type Ack struct {
	ClientMsgID string
	MessageID   string
	MirrorID    string
	Timestamp   int64
}

// Failure is the payload of a message.send_failed event.
type Failure struct {
	ClientMsgID string
	Error       string
}

// Dispatcher polls the outbox for queued entries and sends them in queue
// order. A failed entry is marked failed and reported on the bus; it is not
// retried.
type Dispatcher struct {
	db     *store.DB
	sender Sender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(db *store.DB, sender Sender, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{db: db, sender: sender, bus: b, logger: logger}
}

// Start begins polling the outbox for pending entries.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
}

// Stop stops the polling loop. Entries already handed to the sender are not
// cancelled.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) processPending(ctx context.Context) {
	pending, err := d.db.PendingOutbox()
	if err != nil {
		d.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := d.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			d.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		res, err := d.sender.Send(ctx, entry.FromID, entry.ToID, entry.Body)
		if err != nil {
			d.logger.Error("send failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = d.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			d.bus.Publish(bus.Event{
				Kind:      bus.KindSendFailed,
				Timestamp: time.Now(),
				Payload:   &Failure{ClientMsgID: entry.ClientMsgID, Error: err.Error()},
			})
			continue
		}

		if err := d.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			d.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		d.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("message_id", res.MessageID))
		d.bus.Publish(bus.Event{
			Kind:      bus.KindSendAck,
			Timestamp: time.Now(),
			Payload: &Ack{
				ClientMsgID: entry.ClientMsgID,
				MessageID:   res.MessageID,
				MirrorID:    res.MirrorID,
				Timestamp:   res.Timestamp,
			},
		})
	}
}
