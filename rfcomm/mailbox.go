package rfcomm

import (
	"sync"

	"github.com/arloliu/go-rfcomm/internal/queue"
)

// EndOfStream is the reserved mailbox value that signals a shut down direction.
// Devices surface it as io.EOF.
const EndOfStream = -1

// mailbox is the unbounded inbound byte queue of one handle.
//
// The same mailbox carries pre-stream data (the connection-info frame, a listen handle's
// channel number) and stream data once the handle is paired, so the frame is always read
// before any application byte.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  queue.Queue[int]
	closed bool
}

func newMailbox() *mailbox {
	m := &mailbox{items: queue.NewSliceQueue[int](32)}
	m.cond = sync.NewCond(&m.mu)

	return m
}

// put appends values in order. It fails with ErrConnectionClosed once the mailbox is closed.
func (m *mailbox) put(values ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrConnectionClosed
	}

	m.items.Enqueue(values...)
	m.cond.Broadcast()

	return nil
}

// take removes the next value, blocking until one is available.
//
// A closed mailbox still yields its queued values before failing with ErrConnectionClosed.
// check is polled before every wait; a non-nil result aborts the take.
func (m *mailbox) take(check func() error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.items.IsEmpty() {
		if m.closed {
			return 0, ErrConnectionClosed
		}
		if check != nil {
			if err := check(); err != nil {
				return 0, err
			}
		}
		m.cond.Wait()
	}

	v, _ := m.items.Dequeue()

	return v, nil
}

// drainInto copies queued data bytes into p without blocking and stops at an end-of-stream
// value, which stays queued for the next take.
func (m *mailbox) drainInto(p []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for n < len(p) {
		v, ok := m.items.Peek()
		if !ok || v == EndOfStream {
			break
		}
		m.items.Dequeue()
		p[n] = byte(v)
		n++
	}

	return n
}

// closeWrite rejects further puts and releases blocked takers once the queue drains.
func (m *mailbox) closeWrite() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// wake releases blocked takers so they re-poll their interrupt check.
func (m *mailbox) wake() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cond.Broadcast()
}

func (m *mailbox) length() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.items.Length()
}
