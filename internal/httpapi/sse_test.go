package httpapi

import (
	"testing"
	"time"
)

func TestSSEHub_publishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()

	hub.PublishJSON(map[string]any{"type": "run_update", "run_id": "r1"})
	select {
	case msg := <-ch:
		if len(msg) == 0 {
			t.Fatal("empty message")
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}

	hub.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
	// Double unsubscribe is safe.
	hub.Unsubscribe(ch)
}

func TestSSEHub_dropSlowSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewSSEHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	// Fill the buffer without draining; publishes past capacity must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			hub.PublishJSON(map[string]any{"seq": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
