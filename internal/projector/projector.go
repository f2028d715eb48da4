// Package projector folds the conversation-summary change feed into an
// ordered, de-duplicated most-recent-first view per subscriber.
package projector

import (
	"fmt"
	"sync"
	"time"

	"github.com/elizkhv/quicktalk/internal/bus"
	"github.com/elizkhv/quicktalk/internal/store"
	"go.uber.org/zap"
)

// Feed is the slice of the document store the projector reads on
// subscription: the owner's summaries in timestamp-ascending order.
type Feed interface {
	ListRecents(ownerID string) ([]store.ConversationSummary, error)
}

// Projector opens per-owner subscriptions over the change feed.
type Projector struct {
	db     Feed
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a projector backed by the given store and feed bus.
func New(db Feed, b *bus.Bus, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{db: db, bus: b, logger: logger}
}

// Subscribe opens a live view of ownerID's recent conversations. The bus
// subscription is registered before the backfill read so no change emitted
// during setup is missed; a change that lands in both is folded twice, which
// the last-write-wins fold absorbs.
//
// The returned subscription must be cancelled when no longer needed or the
// feed listener leaks for the life of the process.
func (p *Projector) Subscribe(ownerID string) (*Subscription, error) {
	ch, unsub := p.bus.Subscribe(bus.RecentNamespace(ownerID), 256)

	initial, err := p.db.ListRecents(ownerID)
	if err != nil {
		unsub()
		return nil, fmt.Errorf("backfill recents for %s: %w", ownerID, err)
	}

	sub := &Subscription{
		ownerID: ownerID,
		logger:  p.logger,
		unsub:   unsub,
		done:    make(chan struct{}),
		updates: make(chan []store.ConversationSummary, 1),
	}

	// Replay existing summaries, oldest first, as an initial added batch.
	// Front-insertion turns the ascending replay into newest-first order.
	for i := range initial {
		sub.fold(bus.ChangeAdded, &initial[i])
	}
	sub.publishSnapshot()

	go sub.loop(ch)
	return sub, nil
}

// Subscription is a live recent-conversations view for one owner. The view
// is mutated only by the subscription's own goroutine, one change batch at a
// time, in feed-delivery order.
type Subscription struct {
	ownerID string
	logger  *zap.Logger
	unsub   func()

	once sync.Once
	done chan struct{}

	mu   sync.RWMutex
	view []store.ConversationSummary

	updates chan []store.ConversationSummary
}

// Owner returns the subscribing owner's id.
func (s *Subscription) Owner() string { return s.ownerID }

// Updates delivers a fresh snapshot after each applied change. The channel
// holds only the latest snapshot: a slow reader observes the newest state,
// not every intermediate one.
func (s *Subscription) Updates() <-chan []store.ConversationSummary {
	return s.updates
}

// Snapshot returns a copy of the current view, newest-touched first.
func (s *Subscription) Snapshot() []store.ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ConversationSummary, len(s.view))
	copy(out, s.view)
	return out
}

// Cancel releases the feed listener. After Cancel returns no further feed
// event mutates the view. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.unsub()
		close(s.done)
	})
}

// Done is closed when the subscription has been cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) loop(ch <-chan bus.Event) {
	for {
		select {
		case <-s.done:
			return
		case evt := <-ch:
			// Re-check: events already buffered when Cancel ran must not
			// mutate the view.
			select {
			case <-s.done:
				return
			default:
			}
			s.apply(evt)
		}
	}
}

func (s *Subscription) apply(evt bus.Event) {
	summary, ok := evt.Payload.(*store.ConversationSummary)
	if !ok {
		// Malformed record: log and skip, never fail the feed.
		s.logger.Warn("skipping malformed feed record",
			zap.String("kind", evt.Kind),
			zap.String("owner", s.ownerID),
			zap.Time("at", time.Now()))
		return
	}
	if s.fold(bus.ChangeType(evt.Kind), summary) {
		s.publishSnapshot()
	}
}

// fold applies one change to the view. Added and modified changes remove any
// existing entry with the same counterpart id (linear scan; the list stays
// small) and insert the new entry at the front. Order therefore follows
// event arrival, never timestamp values. Removed changes are a no-op.
func (s *Subscription) fold(change string, summary *store.ConversationSummary) bool {
	switch change {
	case bus.ChangeAdded, bus.ChangeModified:
	case bus.ChangeRemoved:
		return false
	default:
		s.logger.Warn("skipping unknown feed change type", zap.String("change", change))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.view {
		if s.view[i].CounterpartID == summary.CounterpartID {
			s.view = append(s.view[:i], s.view[i+1:]...)
			break
		}
	}
	s.view = append([]store.ConversationSummary{*summary}, s.view...)
	return true
}

func (s *Subscription) publishSnapshot() {
	snap := s.Snapshot()
	for {
		select {
		case s.updates <- snap:
			return
		default:
			// Replace the stale pending snapshot.
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
