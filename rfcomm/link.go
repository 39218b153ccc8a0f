package rfcomm

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-rfcomm/internal/util"
	"github.com/arloliu/go-rfcomm/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// StreamPairing is one established stream between two handles, one per link address.
type StreamPairing struct {
	A Handle
	B Handle
}

type pairing struct {
	ends   [2]Handle
	inbox  [2]*mailbox
	owners [2]Address
}

func (p *pairing) index(h Handle) int {
	if p.ends[0] == h {
		return 0
	}

	return 1
}

// PhysicalLink is the single multiplexed link between two device addresses.
//
// It owns the active stream pairings. The pairing count going 0->1 moves the link to
// LinkConnected and 1->0 back to LinkDisconnected; these are the only points where
// connect and disconnect notifications fire.
type PhysicalLink struct {
	addrs [2]Address

	mu       sync.Mutex
	pairings map[Handle]*pairing // both ends of a pairing map to it
	order    []*pairing

	encrypted atomic.Bool
	stateMgr  *linkStateMgr

	handles  *HandleRegistry
	backlogs *BacklogRegistry
	index    *xsync.MapOf[Handle, *PhysicalLink]
	logger   logger.Logger
}

// Addresses returns the two addresses of the link in canonical order.
func (l *PhysicalLink) Addresses() (Address, Address) {
	return l.addrs[0], l.addrs[1]
}

// Other returns the address at the other end of the link from addr.
func (l *PhysicalLink) Other(addr Address) Address {
	if l.addrs[0] == addr {
		return l.addrs[1]
	}

	return l.addrs[0]
}

func (l *PhysicalLink) hasAddress(addr Address) bool {
	return l.addrs[0] == addr || l.addrs[1] == addr
}

// AddStreamPairing pairs handles a and b, each owned by one address of the link.
//
// It is idempotent for an existing pairing of the same handles. The first pairing of the link
// fires the connect notification for both addresses.
func (l *PhysicalLink) AddStreamPairing(a, b Handle) error {
	owners, err := l.validateEnds(a, b)
	if err != nil {
		return err
	}

	l.mu.Lock()

	if p, ok := l.pairings[a]; ok {
		l.mu.Unlock()
		if p.ends[p.index(a)^1] == b {
			return nil
		}

		return ErrInvalidHandle
	}
	if _, ok := l.pairings[b]; ok {
		l.mu.Unlock()
		return ErrInvalidHandle
	}

	p := &pairing{
		ends:   [2]Handle{a, b},
		inbox:  [2]*mailbox{l.backlogs.inbox(a), l.backlogs.inbox(b)},
		owners: owners,
	}
	l.pairings[a] = p
	l.pairings[b] = p
	l.order = append(l.order, p)
	l.index.Store(a, l)
	l.index.Store(b, l)

	first := len(l.order) == 1
	if first {
		l.stateMgr.lock()
	}
	l.mu.Unlock()

	l.logger.Debug("stream pairing added", "a", a, "b", b, "active", len(l.order))
	if first {
		l.stateMgr.commitLocked(LinkConnected)
	}

	return nil
}

func (l *PhysicalLink) validateEnds(a, b Handle) ([2]Address, error) {
	var owners [2]Address
	if !a.IsValid() || !b.IsValid() || a == b {
		return owners, ErrInvalidHandle
	}

	ownerA, okA := l.handles.Owner(a)
	ownerB, okB := l.handles.Owner(b)
	if !okA || !okB {
		return owners, ErrInvalidHandle
	}
	if ownerA == ownerB || !l.hasAddress(ownerA) || !l.hasAddress(ownerB) {
		return owners, ErrNotOwner
	}

	owners[0], owners[1] = ownerA, ownerB

	return owners, nil
}

// RemoveStreamPairing removes the pairing containing h and closes both of its mailboxes.
// Blocked readers drain what was queued, then fail with ErrConnectionClosed.
//
// It returns false if h is not paired on this link. Removing the last pairing fires the
// disconnect notification for both addresses.
func (l *PhysicalLink) RemoveStreamPairing(h Handle) bool {
	l.mu.Lock()

	p, ok := l.pairings[h]
	if !ok {
		l.mu.Unlock()
		return false
	}

	for _, end := range p.ends {
		delete(l.pairings, end)
		l.index.Delete(end)
	}
	l.order = slices.DeleteFunc(l.order, func(x *pairing) bool { return x == p })
	for _, mb := range p.inbox {
		mb.closeWrite()
	}

	last := len(l.order) == 0
	if last {
		l.stateMgr.lock()
	}
	l.mu.Unlock()

	l.logger.Debug("stream pairing removed", "a", p.ends[0], "b", p.ends[1], "active", len(l.order))
	if last {
		l.stateMgr.commitLocked(LinkDisconnected)
	}

	return true
}

// lookup returns the pairing of h after checking that addr owns h.
func (l *PhysicalLink) lookup(addr Address, h Handle) (*pairing, int, error) {
	l.mu.Lock()
	p, ok := l.pairings[h]
	l.mu.Unlock()

	if !ok {
		return nil, 0, ErrConnectionClosed
	}

	idx := p.index(h)
	if p.owners[idx] != addr {
		return nil, 0, ErrNotOwner
	}

	return p, idx, nil
}

// inbound returns the mailbox addr reads from through h.
func (l *PhysicalLink) inbound(addr Address, h Handle) (*mailbox, error) {
	p, idx, err := l.lookup(addr, h)
	if err != nil {
		return nil, err
	}

	return p.inbox[idx], nil
}

// outbound returns the mailbox that writes by addr through h land in.
func (l *PhysicalLink) outbound(addr Address, h Handle) (*mailbox, error) {
	p, idx, err := l.lookup(addr, h)
	if err != nil {
		return nil, err
	}

	return p.inbox[idx^1], nil
}

// Write sends data from the end of h, owned by addr, to the other end of its pairing.
func (l *PhysicalLink) Write(addr Address, h Handle, data []byte) error {
	mb, err := l.outbound(addr, h)
	if err != nil {
		return err
	}

	return mb.put(util.BytesToInts(data)...)
}

// Read returns the next value received on h, blocking until one is available.
// The value is a byte or EndOfStream.
func (l *PhysicalLink) Read(addr Address, h Handle) (int, error) {
	mb, err := l.inbound(addr, h)
	if err != nil {
		return 0, err
	}

	return mb.take(nil)
}

// Encrypt marks the link encrypted. The flag is never cleared.
func (l *PhysicalLink) Encrypt() {
	if l.encrypted.CompareAndSwap(false, true) {
		l.logger.Debug("link encrypted")
	}
}

// IsEncrypted reports whether the link has been encrypted.
func (l *PhysicalLink) IsEncrypted() bool {
	return l.encrypted.Load()
}

// ActiveStreamPairings returns the number of active stream pairings.
func (l *PhysicalLink) ActiveStreamPairings() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.order)
}

// Pairings returns the active stream pairings in creation order.
func (l *PhysicalLink) Pairings() []StreamPairing {
	l.mu.Lock()
	order := util.CloneSlice(l.order, 0)
	l.mu.Unlock()

	out := make([]StreamPairing, 0, len(order))
	for _, p := range order {
		out = append(out, StreamPairing{A: p.ends[0], B: p.ends[1]})
	}

	return out
}

// HasPairing reports whether h is an end of an active pairing on this link.
func (l *PhysicalLink) HasPairing(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.pairings[h]

	return ok
}

// Peer returns the handle at the other end of the pairing of h.
func (l *PhysicalLink) Peer(h Handle) (Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pairings[h]
	if !ok {
		return InvalidHandle, false
	}

	return p.ends[p.index(h)^1], true
}

// State returns the current link state.
func (l *PhysicalLink) State() LinkState {
	return l.stateMgr.State()
}

// WaitState waits for the link to reach state or until ctx is done.
func (l *PhysicalLink) WaitState(ctx context.Context, state LinkState) error {
	return l.stateMgr.WaitState(ctx, state)
}

type linkKey struct {
	a Address
	b Address
}

func newLinkKey(a, b Address) linkKey {
	if b < a {
		a, b = b, a
	}

	return linkKey{a: a, b: b}
}

// LinkRegistry holds the physical links of a session, one per unordered address pair.
type LinkRegistry struct {
	links    *xsync.MapOf[linkKey, *PhysicalLink]
	byHandle *xsync.MapOf[Handle, *PhysicalLink]
	createMu sync.Mutex

	handles  *HandleRegistry
	backlogs *BacklogRegistry
	handler  linkTransitionHandler
	logger   logger.Logger
}

// NewLinkRegistry creates an empty LinkRegistry. handler, if not nil, is invoked on every link
// state transition, in transition order, before the pairing call that caused it returns.
func NewLinkRegistry(handles *HandleRegistry, backlogs *BacklogRegistry, handler linkTransitionHandler, l logger.Logger) *LinkRegistry {
	if l == nil {
		l = logger.GetLogger()
	}

	return &LinkRegistry{
		links:    xsync.NewMapOf[linkKey, *PhysicalLink](),
		byHandle: xsync.NewMapOf[Handle, *PhysicalLink](),
		handles:  handles,
		backlogs: backlogs,
		handler:  handler,
		logger:   l,
	}
}

// GetOrCreate returns the link between a and b, creating it on first use.
//
// Creation is double-checked under a secondary lock so two devices racing to connect agree on
// a single link instance.
func (r *LinkRegistry) GetOrCreate(a, b Address) *PhysicalLink {
	key := newLinkKey(a, b)
	if link, ok := r.links.Load(key); ok {
		return link
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if link, ok := r.links.Load(key); ok {
		return link
	}

	link := &PhysicalLink{
		addrs:    [2]Address{key.a, key.b},
		pairings: make(map[Handle]*pairing),
		handles:  r.handles,
		backlogs: r.backlogs,
		index:    r.byHandle,
		logger:   r.logger.With("link", string(key.a)+"<->"+string(key.b)),
	}
	link.stateMgr = newLinkStateMgr(link, link.logger, r.handler)
	r.links.Store(key, link)

	return link
}

// Get returns the link between a and b if it exists.
func (r *LinkRegistry) Get(a, b Address) (*PhysicalLink, bool) {
	return r.links.Load(newLinkKey(a, b))
}

// LinkOf returns the link on which h is currently paired.
func (r *LinkRegistry) LinkOf(h Handle) (*PhysicalLink, bool) {
	return r.byHandle.Load(h)
}

// Links returns every link ordered by address pair.
func (r *LinkRegistry) Links() []*PhysicalLink {
	links := make([]*PhysicalLink, 0, r.links.Size())
	r.links.Range(func(_ linkKey, link *PhysicalLink) bool {
		links = append(links, link)
		return true
	})
	slices.SortFunc(links, func(x, y *PhysicalLink) int {
		return cmp.Or(cmp.Compare(x.addrs[0], y.addrs[0]), cmp.Compare(x.addrs[1], y.addrs[1]))
	})

	return links
}

// Reset forgets every link.
func (r *LinkRegistry) Reset() {
	r.createMu.Lock()
	defer r.createMu.Unlock()

	r.links.Clear()
	r.byHandle.Clear()
}
