package events

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderExecuted, 1)
	defer unsub()

	bus.Publish(EventOrderExecuted, "ord-1")

	select {
	case got := <-ch:
		if got != "ord-1" {
			t.Errorf("payload = %v, want ord-1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishOnlyMatchingEvent(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderFailed, 1)
	defer unsub()

	bus.Publish(EventOrderExecuted, "ord-1")

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery: %v", got)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(EventPositionClosed, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// nobody drains the subscriber; extra publishes must drop
		for i := 0; i < 10; i++ {
			bus.Publish(EventPositionClosed, i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPositionOpened, 1)
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// publishing after unsubscribe is a no-op
	bus.Publish(EventPositionOpened, "pos-1")
}
