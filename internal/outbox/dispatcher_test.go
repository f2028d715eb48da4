package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/fanout"
	"github.com/elizkhv/quicktalk/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fail  bool
	count int
}

func (f *fakeSender) Send(_ context.Context, fromID, toID, text string) (*fanout.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.fail {
		return nil, errors.New("store unavailable")
	}
	f.sent = append(f.sent, text)
	return &fanout.SendResult{MessageID: "m", MirrorID: "n", Timestamp: 1000}, nil
}

func TestDispatcherSendsQueuedEntry(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	sender := &fakeSender{}
	d := NewDispatcher(db, sender, b, nil)

	if err := db.QueueOutbox("c1", "u1", "u2", "hi"); err != nil {
		t.Fatal(err)
	}

	d.Start(context.Background())
	defer d.Stop()

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSendAck {
			t.Fatalf("kind = %q, want send_ack", evt.Kind)
		}
		ack, ok := evt.Payload.(*Ack)
		if !ok || ack.ClientMsgID != "c1" || ack.MessageID != "m" {
			t.Errorf("ack = %+v", evt.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for send_ack")
	}

	entry, err := db.GetOutboxEntry("c1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != "sent" {
		t.Errorf("status = %q, want sent", entry.Status)
	}
}

func TestDispatcherMarksFailureWithoutRetry(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	sender := &fakeSender{fail: true}
	d := NewDispatcher(db, sender, b, nil)

	if err := db.QueueOutbox("c1", "u1", "u2", "hi"); err != nil {
		t.Fatal(err)
	}

	d.Start(context.Background())
	defer d.Stop()

	select {
	case evt := <-ch:
		failure, ok := evt.Payload.(*Failure)
		if !ok || failure.ClientMsgID != "c1" || failure.Error == "" {
			t.Errorf("failure = %+v", evt.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for send_failed")
	}

	entry, err := db.GetOutboxEntry("c1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != "failed" {
		t.Errorf("status = %q, want failed", entry.Status)
	}

	// No retry: wait past several poll cycles, the sender saw it once.
	time.Sleep(600 * time.Millisecond)
	sender.mu.Lock()
	count := sender.count
	sender.mu.Unlock()
	if count != 1 {
		t.Errorf("sender invoked %d times, want 1", count)
	}
}

func TestDispatcherPreservesQueueOrder(t *testing.T) {
	db := testDB(t)
	sender := &fakeSender{}
	d := NewDispatcher(db, sender, bus.New(), nil)

	for i, body := range []string{"first", "second", "third"} {
		if err := db.QueueOutbox(string(rune('a'+i)), "u1", "u2", body); err != nil {
			t.Fatal(err)
		}
	}

	d.Start(context.Background())
	defer d.Stop()

	deadline := time.After(3 * time.Second)
	for {
		sender.mu.Lock()
		n := len(sender.sent)
		sender.mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of 3 entries sent", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.sent[0] != "first" || sender.sent[2] != "third" {
		t.Errorf("send order = %v", sender.sent)
	}
}
