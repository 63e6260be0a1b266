package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexops/drover/pkg/types"
)

// TestPublishSubscribe verifies delivery to every subscriber
func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventTaskInitialized, TaskID: "t1"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventTaskInitialized, event.Type)
			assert.Equal(t, "t1", event.TaskID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

// TestUnsubscribe verifies removed subscribers stop receiving
func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed after unsubscribe
	_, open := <-sub
	assert.False(t, open)
}

// TestPublishNeverBlocks verifies emitters survive a full broker buffer
func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	// Not started: nothing drains the internal buffer

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventTaskTransition, TaskID: "t1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}

// TestSlowSubscriberDropped verifies a full subscriber never backs up
// the broker
func TestSlowSubscriberDropped(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	// Overrun the slow subscriber's buffer without draining it
	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventTaskTransition, TaskID: "t1"})
	}

	// The fast subscriber still receives events
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
	_ = slow
}

// TestTaskStateEvent verifies the per-state event type helper
func TestTaskStateEvent(t *testing.T) {
	assert.Equal(t, EventType("task.running"), TaskStateEvent(types.TaskStateRunning))
	assert.Equal(t, EventType("task.completed"), TaskStateEvent(types.TaskStateCompleted))
}

// TestStopIdempotent verifies Stop is safe to call twice
func TestStopIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()
}
