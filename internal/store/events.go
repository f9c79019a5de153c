package store

import (
	"sync"
	"sync/atomic"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// EventKind tags a domain event.
type EventKind string

const (
	EventMessage   EventKind = "message"
	EventPresence  EventKind = "presence"
	EventChat      EventKind = "chat"
	EventReaction  EventKind = "reaction"
	EventGroup     EventKind = "group"
	EventLifecycle EventKind = "lifecycle"
	EventError     EventKind = "error"
)

// Event is a tagged domain event. Payload holds the kind-specific value:
// Message, PresenceUpdate, Reaction, GroupUpdate, Lifecycle, or error.
type Event struct {
	Kind      EventKind
	SessionID string
	Payload   interface{}
	Timestamp time.Time
}

// Lifecycle is the payload of EventLifecycle events.
type Lifecycle struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// Bus is a typed publish/subscribe channel for domain events. Subscribers
// receive events on buffered channels; a full subscriber drops the event
// rather than blocking writers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventKind][]chan Event
	all     []chan Event
	closed  bool
	dropped atomic.Uint64
	log     waLog.Logger
}

const subscriberBuffer = 256

// NewBus creates an event bus.
func NewBus(log waLog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventKind][]chan Event),
		log:  log,
	}
}

// Subscribe returns a channel receiving events of the given kinds. With no
// kinds, the channel receives every event.
func (b *Bus) Subscribe(kinds ...EventKind) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if len(kinds) == 0 {
		b.all = append(b.all, ch)
		return ch
	}
	for _, kind := range kinds {
		b.subs[kind] = append(b.subs[kind], ch)
	}
	return ch
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Kind] {
		b.send(ch, evt)
	}
	for _, ch := range b.all {
		b.send(ch, evt)
	}
}

func (b *Bus) send(ch chan Event, evt Event) {
	select {
	case ch <- evt:
	default:
		b.dropped.Add(1)
		b.log.Warnf("Dropping %s event for %s: subscriber buffer full", evt.Kind, evt.SessionID)
	}
}

// Dropped returns how many events were dropped on full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	seen := make(map[chan Event]bool)
	for _, chans := range b.subs {
		for _, ch := range chans {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	for _, ch := range b.all {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
}
