package rfcomm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-rfcomm/logger"
)

// LinkState represents the connection state of a physical link.
type LinkState uint32

const (
	// LinkDisconnected indicates that the link carries no stream pairing.
	LinkDisconnected LinkState = iota
	// LinkConnected indicates that the link carries at least one stream pairing.
	LinkConnected
)

// IsConnected returns if the state is connected.
func (s LinkState) IsConnected() bool { return s == LinkConnected }

// String returns string representation of the state.
func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// linkTransitionHandler is invoked on every link state transition.
type linkTransitionHandler func(link *PhysicalLink, prevState LinkState, newState LinkState)

// linkStateMgr tracks the state of one physical link.
//
// Transitions are committed with the manager's mutex held, and the link hands over from its
// own mutex to this one, so states change in the same order as the pairing count. Handlers
// run after the mutex is released, one transition at a time in commit order.
type linkStateMgr struct {
	mu      sync.Mutex
	cond    *sync.Cond
	state   atomic.Uint32
	link    *PhysicalLink
	logger  logger.Logger
	handler linkTransitionHandler

	ticket     uint64 // next transition, guarded by mu
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	serving    uint64 // transition whose handler may run, guarded by notifyMu
}

func newLinkStateMgr(link *PhysicalLink, l logger.Logger, handler linkTransitionHandler) *linkStateMgr {
	mgr := &linkStateMgr{link: link, logger: l, handler: handler}
	mgr.cond = sync.NewCond(&mgr.mu)
	mgr.notifyCond = sync.NewCond(&mgr.notifyMu)
	mgr.state.Store(uint32(LinkDisconnected))

	return mgr
}

// State returns the current link state.
func (m *linkStateMgr) State() LinkState {
	return LinkState(m.state.Load())
}

// lock acquires the manager before the caller releases the link mutex.
func (m *linkStateMgr) lock() {
	m.mu.Lock()
}

// commitLocked moves to newState, releases the manager and invokes the handler once every
// earlier transition was handled. The caller must hold the manager through lock.
func (m *linkStateMgr) commitLocked(newState LinkState) {
	prevState := m.State()
	if prevState == newState {
		m.mu.Unlock()
		return
	}

	m.state.Store(uint32(newState))
	m.cond.Broadcast()
	ticket := m.ticket
	m.ticket++
	m.mu.Unlock()

	m.notifyMu.Lock()
	for m.serving != ticket {
		m.notifyCond.Wait()
	}
	m.notifyMu.Unlock()

	defer func() {
		m.notifyMu.Lock()
		m.serving++
		m.notifyCond.Broadcast()
		m.notifyMu.Unlock()
	}()

	m.logger.Debug("link state changed", "prevState", prevState, "newState", newState)
	if m.handler != nil {
		m.handler(m.link, prevState, newState)
	}
}

// WaitState waits for the link to reach state or until ctx is done.
func (m *linkStateMgr) WaitState(ctx context.Context, state LinkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cond.Broadcast()
	})
	defer stop()

	for m.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.cond.Wait()
	}

	return nil
}
