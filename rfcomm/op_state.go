package rfcomm

import "sync/atomic"

// OpState is the lifecycle state of a listening endpoint.
type OpState uint32

const (
	ListeningState OpState = iota
	ClosedState
)

// AtomicOpState holds an OpState that can be transitioned with CAS.
type AtomicOpState struct {
	state atomic.Uint32
}

func (st *AtomicOpState) String() string {
	switch st.Get() {
	case ListeningState:
		return "Listening"
	case ClosedState:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Get returns the current state of the AtomicOpState.
func (st *AtomicOpState) Get() OpState {
	return OpState(st.state.Load())
}

func (st *AtomicOpState) IsListening() bool {
	return st.Get() == ListeningState
}

func (st *AtomicOpState) IsClosed() bool {
	return st.Get() == ClosedState
}

// ToClosed moves the state from listening to closed.
// It returns false if the state was already closed.
func (st *AtomicOpState) ToClosed() bool {
	return st.state.CompareAndSwap(uint32(ListeningState), uint32(ClosedState))
}

// Reopen moves the state back to listening.
func (st *AtomicOpState) Reopen() {
	st.state.Store(uint32(ListeningState))
}
