package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "session.changed" {
			t.Errorf("got kind %q, want session.changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Publish(Event{Kind: "session.changed"})
	b.Publish(Event{Kind: "store.chats"})

	select {
	case evt := <-ch:
		if evt.Kind != "store.chats" {
			t.Errorf("got kind %q, want store.chats", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestSubcollectionPrefixMatch(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.chats/c1/messages", 10)
	defer unsub()

	b.Publish(Event{Kind: "store.chats/c2/messages"})
	b.Publish(Event{Kind: "store.chats/c1/messages"})

	select {
	case evt := <-ch:
		if evt.Kind != "store.chats/c1/messages" {
			t.Errorf("got kind %q, want store.chats/c1/messages", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: "session.changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	before := time.Now()
	b.Emit("chat.updated", "c1")

	select {
	case evt := <-ch:
		if evt.Payload != "c1" {
			t.Errorf("got payload %v, want c1", evt.Payload)
		}
		if evt.Timestamp.Before(before) {
			t.Error("emitted event has no fresh timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
