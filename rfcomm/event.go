package rfcomm

import (
	"sync/atomic"

	"github.com/cskr/pubsub/v2"
)

// allEventsTopic receives every published event.
const allEventsTopic Address = "*"

// LinkEvent is published for each address of a link when the link changes state.
type LinkEvent struct {
	Local     Address
	Peer      Address
	State     LinkState
	Encrypted bool
}

// eventBus fans link events out to subscribers. Publishing never blocks; events sent to a
// full subscription are dropped.
type eventBus struct {
	ps     *pubsub.PubSub[Address, any]
	closed atomic.Bool
}

func newEventBus(capacity int) *eventBus {
	return &eventBus{ps: pubsub.New[Address, any](capacity)}
}

func (b *eventBus) publish(ev LinkEvent) {
	if b.closed.Load() {
		return
	}
	b.ps.TryPub(ev, ev.Local, allEventsTopic)
}

// subscribe returns a channel of LinkEvent values for the given local addresses, or for every
// address when none is given, and a function that cancels the subscription.
func (b *eventBus) subscribe(addrs ...Address) (<-chan any, func()) {
	topics := addrs
	if len(topics) == 0 {
		topics = []Address{allEventsTopic}
	}

	if b.closed.Load() {
		ch := make(chan any)
		close(ch)

		return ch, func() {}
	}

	ch := b.ps.Sub(topics...)

	return ch, func() {
		if !b.closed.Load() {
			go b.ps.Unsub(ch, topics...)
		}
	}
}

func (b *eventBus) shutdown() {
	if b.closed.CompareAndSwap(false, true) {
		b.ps.Shutdown()
	}
}
