// Package broadcast is the in-process publish/subscribe registry a writer
// uses to hint subscription actors that new events landed, without either
// side blocking on the other.
package broadcast

import (
	"sync"

	"github.com/streamsub/core/event"
)

// DefaultMailboxSize bounds a Listener's buffered channel when Register is
// called without an explicit size.
const DefaultMailboxSize = 64

// Listener is a per-subscription mailbox registered against one topic.
//
// Publish never blocks on a slow or stalled listener: once the mailbox is
// full, further batches are dropped for that listener. A subscription
// actor treats every notification purely as a hint to reconcile via the
// Historical Reader, so a dropped hint costs it nothing beyond an extra
// catch-up round.
type Listener struct {
	C <-chan []event.Recorded

	c chan []event.Recorded
}

// Bus is a mutex-guarded map of topic to listener set, fanning out to many
// independently-paced listeners per topic.
type Bus struct {
	mx        sync.Mutex
	listeners map[string][]*Listener
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{listeners: make(map[string][]*Listener)}
}

// Register creates and returns a new Listener subscribed to topic (a
// stream key, or event.AllStreams). Call Unregister with the same Listener
// when the caller is done, or the Bus will keep publishing into it forever.
func Register(b *Bus, topic string, mailboxSize int) *Listener {
	if mailboxSize <= 0 {
		mailboxSize = DefaultMailboxSize
	}

	c := make(chan []event.Recorded, mailboxSize)
	l := &Listener{C: c, c: c}

	b.mx.Lock()
	defer b.mx.Unlock()

	b.listeners[topic] = append(b.listeners[topic], l)

	return l
}

// Unregister removes l from topic. Publish calls already in flight for l
// may still be delivered concurrently with Unregister; callers that need a
// hard guarantee should stop reading from l.C only after Unregister
// returns.
func Unregister(b *Bus, topic string, l *Listener) {
	b.mx.Lock()
	defer b.mx.Unlock()

	ls := b.listeners[topic]

	for i, candidate := range ls {
		if candidate == l {
			b.listeners[topic] = append(ls[:i], ls[i+1:]...)
			break
		}
	}

	if len(b.listeners[topic]) == 0 {
		delete(b.listeners, topic)
	}
}

// Publish fans events out to every listener registered on topic. Delivery
// to each listener is FIFO relative to this call, but never blocks: a
// listener whose mailbox is full simply misses this batch.
func Publish(b *Bus, topic string, events []event.Recorded) {
	b.mx.Lock()
	ls := append([]*Listener(nil), b.listeners[topic]...)
	b.mx.Unlock()

	for _, l := range ls {
		select {
		case l.c <- events:
		default:
		}
	}
}
