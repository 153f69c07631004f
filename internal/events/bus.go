// Package events provides the in-process publish/subscribe surface that
// fans platform events out to the WebSocket hub, the notifier, and the
// memory audit log. Subscribers are isolated behind buffered queues:
// a slow subscriber loses events, it never slows a publisher down.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

// Kind identifies an event class
type Kind string

const (
	KindBotStarted     Kind = "bot_started"
	KindBotStopped     Kind = "bot_stopped"
	KindBotStartFailed Kind = "bot_start_failed"
	KindTradeExecuted  Kind = "trade_executed"
	KindStatusUpdate   Kind = "status_update"
	KindLogMessage     Kind = "log_message"
	KindNewsShared     Kind = "news_shared"
)

// Event is one bus message. Payload stays map-shaped so the WebSocket
// surface can forward it without re-marshalling through domain types.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	BotID     string                 `json:"bot_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// DefaultQueueSize is the per-subscriber buffer
const DefaultQueueSize = 256

// Subscription is one subscriber's view of the bus
type Subscription struct {
	id      uint64
	kinds   map[Kind]struct{} // empty means all kinds
	ch      chan Event
	bus     *Bus
	dropped atomic.Uint64
}

// Events returns the subscriber's receive channel. It is closed when the
// subscription or the bus closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the queue was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its channel
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscribers. Publishing never blocks: when a
// subscriber queue is full the event is dropped for that subscriber only.
// Because each publisher delivers from its own goroutine under a shared
// read lock, per-publisher order is preserved at every subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber for the given kinds (none = all).
// queueSize <= 0 selects DefaultQueueSize.
func (b *Bus) Subscribe(queueSize int, kinds ...Kind) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	sub := &Subscription{
		kinds: make(map[Kind]struct{}, len(kinds)),
		ch:    make(chan Event, queueSize),
		bus:   b,
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every matching subscriber without blocking.
// Missing ID and Timestamp fields are stamped here.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	metrics.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			metrics.EventsDropped.WithLabelValues(string(ev.Kind)).Inc()
		}
	}
}

// Close shuts the bus down and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	close(s.ch)
}

// Log publishes a log_message event; convenience for bot runtimes
func (b *Bus) Log(botID, symbol, message string) {
	b.Publish(Event{
		Kind:    KindLogMessage,
		BotID:   botID,
		Symbol:  symbol,
		Message: message,
	})
}
