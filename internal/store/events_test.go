package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed before event arrived")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus(waLog.Noop)
	defer bus.Close()

	messages := bus.Subscribe(EventMessage)
	lifecycle := bus.Subscribe(EventLifecycle)

	bus.Publish(Event{Kind: EventMessage, SessionID: "s1"})
	bus.Publish(Event{Kind: EventLifecycle, SessionID: "s1"})
	bus.Publish(Event{Kind: EventPresence, SessionID: "s1"})

	evt := recvEvent(t, messages)
	assert.Equal(t, EventMessage, evt.Kind)
	evt = recvEvent(t, lifecycle)
	assert.Equal(t, EventLifecycle, evt.Kind)

	select {
	case evt := <-messages:
		t.Fatalf("unexpected event on message channel: %v", evt.Kind)
	default:
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(waLog.Noop)
	defer bus.Close()

	all := bus.Subscribe()

	bus.Publish(Event{Kind: EventMessage, SessionID: "s1"})
	bus.Publish(Event{Kind: EventError, SessionID: "s2"})

	assert.Equal(t, EventMessage, recvEvent(t, all).Kind)
	assert.Equal(t, EventError, recvEvent(t, all).Kind)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(waLog.Noop)
	defer bus.Close()

	bus.Subscribe(EventMessage) // never drained

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{Kind: EventMessage, SessionID: "s1"})
	}
	assert.Equal(t, uint64(10), bus.Dropped())
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(waLog.Noop)
	ch := bus.Subscribe(EventMessage)
	bus.Close()

	// Must not panic, and the subscriber channel is closed.
	bus.Publish(Event{Kind: EventMessage, SessionID: "s1"})
	_, ok := <-ch
	assert.False(t, ok)
}
