package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	ev := Event{Type: TypeSyncStart, At: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	hub.Publish(ev)

	select {
	case got := <-ch:
		assert.Equal(t, ev, got)
	default:
		t.Fatal("no event delivered")
	}
}

func TestPublishFansOut(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(Event{Type: TypeUpdateDone})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Count())

	cancel()
	assert.Equal(t, 0, hub.Count())

	hub.Publish(Event{Type: TypeError})
	assert.Empty(t, ch)
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// well past the channel buffer; a slow subscriber must not stall this
		for i := 0; i < 200; i++ {
			hub.Publish(Event{Type: TypeUpdateProgress})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
