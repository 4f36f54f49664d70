package broadcast_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/streamsub/core/broadcast"
	"github.com/streamsub/core/event"
)

func TestPublish_DeliversToRegisteredListener(t *testing.T) {
	bus := broadcast.New()
	l := broadcast.Register(bus, "orders-1", 4)

	events := []event.Recorded{{StreamKey: "orders-1", StreamVersion: 1}}
	broadcast.Publish(bus, "orders-1", events)

	select {
	case got := <-l.C:
		assert.Equal(t, events, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published batch")
	}
}

func TestPublish_NeverBlocksOnFullMailbox(t *testing.T) {
	bus := broadcast.New()
	l := broadcast.Register(bus, "orders-1", 1)

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < 10; i++ {
			broadcast.Publish(bus, "orders-1", []event.Recorded{{StreamVersion: int64(i)}})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full mailbox")
	}

	assert.Len(t, l.C, 1)
}

func TestPublish_UnrelatedTopicDoesNotDeliver(t *testing.T) {
	bus := broadcast.New()
	l := broadcast.Register(bus, "orders-1", 4)

	broadcast.Publish(bus, "orders-2", []event.Recorded{{StreamVersion: 1}})

	select {
	case <-l.C:
		t.Fatal("listener received a batch published to a different topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregister_StopsDelivery(t *testing.T) {
	bus := broadcast.New()
	l := broadcast.Register(bus, "orders-1", 4)
	broadcast.Unregister(bus, "orders-1", l)

	broadcast.Publish(bus, "orders-1", []event.Recorded{{StreamVersion: 1}})

	select {
	case <-l.C:
		t.Fatal("unregistered listener still received a batch")
	case <-time.After(50 * time.Millisecond):
	}
}
