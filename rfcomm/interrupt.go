package rfcomm

import (
	"errors"
	"fmt"
	"sync"
)

// InterruptPolicy decides whether blocking operations must fail fast.
//
// Interrupted is polled at the start of every operation and each time a blocked operation is
// woken up. A non-nil result fails the operation with ErrInterrupted wrapping that error.
type InterruptPolicy interface {
	Interrupted() error
}

// InterruptFunc adapts a function to InterruptPolicy.
type InterruptFunc func() error

// Interrupted implements InterruptPolicy.
func (f InterruptFunc) Interrupted() error { return f() }

// errInterruptRequested is reported by an Interrupter triggered without a cause.
var errInterruptRequested = errors.New("interrupt requested")

// Waker releases blocked operations so they re-poll their interrupt policy.
// Session and Device implement it.
type Waker interface {
	WakeWaiters()
}

// Interrupter is a switchable InterruptPolicy for test scenarios.
//
// Interrupt wakes the Wakers the Interrupter was created with, so operations already blocked
// on them fail immediately.
type Interrupter struct {
	mu     sync.RWMutex
	cause  error
	wakers []Waker
}

// NewInterrupter creates an Interrupter that is not triggered. Interrupt wakes the given
// wakers, usually the session whose devices use the policy.
func NewInterrupter(wakers ...Waker) *Interrupter {
	return &Interrupter{wakers: wakers}
}

// Interrupt triggers the policy and wakes the bound waiters. A nil cause is replaced with a
// generic one.
func (i *Interrupter) Interrupt(cause error) {
	if cause == nil {
		cause = errInterruptRequested
	}

	i.mu.Lock()
	i.cause = cause
	i.mu.Unlock()

	for _, w := range i.wakers {
		w.WakeWaiters()
	}
}

// Clear resets the policy.
func (i *Interrupter) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cause = nil
}

// Interrupted implements InterruptPolicy.
func (i *Interrupter) Interrupted() error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.cause
}

func checkInterrupt(p InterruptPolicy) error {
	if p == nil {
		return nil
	}

	if cause := p.Interrupted(); cause != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}

	return nil
}
