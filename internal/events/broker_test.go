package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	b.Publish(Event{Type: TypeCheckStep, SessionID: "s1", Version: 3})

	select {
	case ev := <-ch:
		assert.Equal(t, TypeCheckStep, ev.Type)
		assert.Equal(t, int64(3), ev.Version)
		assert.False(t, ev.At.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestPublish_OnlyReachesSameSession(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe("s1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("s2")
	defer cancel2()

	b.Publish(Event{Type: TypeSessionUpdated, SessionID: "s1"})

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("s1 subscriber should receive the event")
	}
	select {
	case ev := <-ch2:
		t.Fatalf("s2 subscriber should not receive %v", ev)
	default:
	}
}

func TestPublish_DropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("s1")
	defer cancel()

	// Fill the buffer and then some; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeSessionUpdated, SessionID: "s1", Version: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.LessOrEqual(t, len(ch), 16)
}

func TestCancelReleasesSubscription(t *testing.T) {
	b := NewBroker()
	_, cancel1 := b.Subscribe("s1")
	_, cancel2 := b.Subscribe("s1")
	require.Equal(t, 2, b.SubscriberCount("s1"))

	cancel1()
	assert.Equal(t, 1, b.SubscriberCount("s1"))
	cancel2()
	assert.Equal(t, 0, b.SubscriberCount("s1"))

	// Cancelling twice is harmless.
	cancel2()
	assert.Equal(t, 0, b.SubscriberCount("s1"))
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := NewBroker()
	// Publishing into the void must not panic.
	b.Publish(Event{Type: TypeSessionEnded, SessionID: "nobody"})
}
