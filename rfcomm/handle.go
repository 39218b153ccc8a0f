package rfcomm

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type handleEntry struct {
	owner    Address
	released atomic.Bool
}

// HandleRegistry mints handles and remembers which address owns each of them.
//
// Handles are drawn from a counter starting at 1, so a scenario replayed against a fresh
// registry observes the same handle values.
type HandleRegistry struct {
	next    atomic.Uint64
	entries *xsync.MapOf[Handle, *handleEntry]
}

// NewHandleRegistry creates an empty HandleRegistry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{entries: xsync.NewMapOf[Handle, *handleEntry]()}
}

// Allocate returns a new handle owned by owner.
func (r *HandleRegistry) Allocate(owner Address) Handle {
	h := Handle(r.next.Add(1))
	r.entries.Store(h, &handleEntry{owner: owner})

	return h
}

// Owner returns the address that owns h.
// Ownership is kept after release so late lookups still resolve.
func (r *HandleRegistry) Owner(h Handle) (Address, bool) {
	entry, ok := r.entries.Load(h)
	if !ok {
		return "", false
	}

	return entry.owner, true
}

// Release marks h as closed. It returns true only for the first release of an allocated handle.
func (r *HandleRegistry) Release(h Handle) bool {
	entry, ok := r.entries.Load(h)
	if !ok {
		return false
	}

	return entry.released.CompareAndSwap(false, true)
}

// IsReleased reports whether h has been released. Unknown handles count as released.
func (r *HandleRegistry) IsReleased(h Handle) bool {
	entry, ok := r.entries.Load(h)
	if !ok {
		return true
	}

	return entry.released.Load()
}

// Len returns the number of handles allocated since the last reset.
func (r *HandleRegistry) Len() int {
	return r.entries.Size()
}

// Reset forgets every handle and restarts the counter.
func (r *HandleRegistry) Reset() {
	r.entries.Clear()
	r.next.Store(0)
}
