package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:     EventTaskDone,
		Platform: "stub",
		Message:  "collected 3 items",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventTaskDone, event.Type)
			assert.Equal(t, "stub", event.Platform)
			assert.NotEmpty(t, event.ID)
			assert.False(t, event.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained: its buffer fills and further events are skipped.
	slow := broker.Subscribe()
	defer broker.Unsubscribe(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			broker.Publish(&Event{Type: EventCollectPass})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPublishAfterStopReturns(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	broker.Stop()

	finished := make(chan struct{})
	go func() {
		broker.Publish(&Event{Type: EventTaskAborted})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
