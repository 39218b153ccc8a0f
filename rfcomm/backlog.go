package rfcomm

import (
	"sync"

	"github.com/arloliu/go-rfcomm/internal/queue"
	"github.com/arloliu/go-rfcomm/internal/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// ConnectionRequest is a connection attempt posted by an initiator into the backlog of a
// listening endpoint.
//
// The server-side handle is minted when the request is created, so the client handle is
// paired with exactly one server handle from the moment the request is posted. The channel
// number is captured at post time and survives a later deregistration of the service.
type ConnectionRequest struct {
	ClientHandle  Handle
	ServerHandle  Handle
	ClientAddress Address
	ServerAddress Address
	Channel       int

	done   chan struct{}
	once   sync.Once
	err    error
	poison bool
}

func newConnectionRequest(client, server Handle, clientAddr, serverAddr Address, channel int) *ConnectionRequest {
	return &ConnectionRequest{
		ClientHandle:  client,
		ServerHandle:  server,
		ClientAddress: clientAddr,
		ServerAddress: serverAddr,
		Channel:       channel,
		done:          make(chan struct{}),
	}
}

// Done returns a channel closed once the acceptor completed or aborted the connection.
func (r *ConnectionRequest) Done() <-chan struct{} {
	return r.done
}

// Err returns the reason the request was aborted, or nil once completed.
// It must only be called after Done is closed.
func (r *ConnectionRequest) Err() error {
	return r.err
}

// complete releases the initiator. Later calls, including abort, are no-ops.
func (r *ConnectionRequest) complete() {
	r.once.Do(func() { close(r.done) })
}

// abort releases the initiator with err.
func (r *ConnectionRequest) abort(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// frameFunc builds the connection-info frame written by the acceptor for a peer and channel.
type frameFunc func(peer Address, channel int) []byte

// Backlog is the FIFO queue of pending connection requests of one listening handle.
//
// Closing the backlog enqueues a poison request behind the real ones, so requests posted
// before the close are still delivered and exactly one blocked TakeNext returns
// ErrBacklogClosed for it.
type Backlog struct {
	listen Handle
	owner  Address

	mu       sync.Mutex
	cond     *sync.Cond
	pending  queue.Queue[*ConnectionRequest]
	state    AtomicOpState
	drained  bool // the poison request has been consumed
	frame    frameFunc
	registry *BacklogRegistry
}

// ListenHandle returns the listening handle the backlog belongs to.
func (b *Backlog) ListenHandle() Handle { return b.listen }

// Owner returns the address of the listening device.
func (b *Backlog) Owner() Address { return b.owner }

// Post enqueues req. It fails with ErrBacklogClosed once the backlog is closed.
func (b *Backlog) Post(req *ConnectionRequest) error {
	if req == nil {
		return ErrNoPendingConnection
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.IsClosed() {
		return ErrBacklogClosed
	}

	b.pending.Enqueue(req)
	b.cond.Signal()

	return nil
}

// TakeNext removes the next request in FIFO order, blocking until one arrives, and writes the
// connection-info frame into the server handle's mailbox.
//
// It returns ErrBacklogClosed when it dequeues the poison request, and on every call after that.
func (b *Backlog) TakeNext() (*ConnectionRequest, error) {
	return b.takeNext(nil)
}

func (b *Backlog) takeNext(check func() error) (*ConnectionRequest, error) {
	req, err := b.dequeue(check)
	if err != nil {
		return nil, err
	}

	if b.frame != nil {
		frame := b.frame(req.ClientAddress, req.Channel)
		// the server handle is fresh, its mailbox cannot be closed yet
		_ = b.registry.inbox(req.ServerHandle).put(util.BytesToInts(frame)...)
	}

	return req, nil
}

func (b *Backlog) dequeue(check func() error) (*ConnectionRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.drained {
			return nil, ErrBacklogClosed
		}

		req, ok := b.pending.Dequeue()
		if ok {
			if req.poison {
				b.drained = true
				return nil, ErrBacklogClosed
			}

			return req, nil
		}

		if check != nil {
			if err := check(); err != nil {
				return nil, err
			}
		}
		b.cond.Wait()
	}
}

// Close posts the poison request. It returns false if the backlog was already closed.
func (b *Backlog) Close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.ToClosed() {
		return false
	}

	b.pending.Enqueue(&ConnectionRequest{poison: true})
	b.cond.Signal()

	return true
}

// IsClosed reports whether Close has been called.
func (b *Backlog) IsClosed() bool {
	return b.state.IsClosed()
}

// Len returns the number of queued requests, the poison request included.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pending.Length()
}

func (b *Backlog) wake() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cond.Broadcast()
}

// BacklogRegistry holds the backlog of every listening handle and the inbound mailbox of
// every handle of a session.
type BacklogRegistry struct {
	backlogs  *xsync.MapOf[Handle, *Backlog]
	mailboxes *xsync.MapOf[Handle, *mailbox]
}

// NewBacklogRegistry creates an empty BacklogRegistry.
func NewBacklogRegistry() *BacklogRegistry {
	return &BacklogRegistry{
		backlogs:  xsync.NewMapOf[Handle, *Backlog](),
		mailboxes: xsync.NewMapOf[Handle, *mailbox](),
	}
}

// Create registers a new open backlog for the listening handle, replacing any previous one.
func (r *BacklogRegistry) Create(listen Handle, owner Address, frame frameFunc) *Backlog {
	b := &Backlog{
		listen:   listen,
		owner:    owner,
		pending:  queue.NewSliceQueue[*ConnectionRequest](4),
		frame:    frame,
		registry: r,
	}
	b.cond = sync.NewCond(&b.mu)
	b.state.Reopen()
	r.backlogs.Store(listen, b)

	return b
}

// Get returns the backlog of the listening handle.
func (r *BacklogRegistry) Get(listen Handle) (*Backlog, bool) {
	return r.backlogs.Load(listen)
}

// inbox returns the inbound mailbox of h, creating it on first use.
func (r *BacklogRegistry) inbox(h Handle) *mailbox {
	mb, _ := r.mailboxes.LoadOrCompute(h, newMailbox)
	return mb
}

// closedInbox returns the mailbox of h if it exists and was closed for writing.
func (r *BacklogRegistry) closedInbox(h Handle) (*mailbox, bool) {
	mb, ok := r.mailboxes.Load(h)
	if !ok || !mb.isClosed() {
		return nil, false
	}

	return mb, true
}

// Pending returns the number of queued bytes in the mailbox of h.
func (r *BacklogRegistry) Pending(h Handle) int {
	mb, ok := r.mailboxes.Load(h)
	if !ok {
		return 0
	}

	return mb.length()
}

// wakeAll releases every blocked TakeNext and mailbox take so they re-poll their checks.
func (r *BacklogRegistry) wakeAll() {
	r.backlogs.Range(func(_ Handle, b *Backlog) bool {
		b.wake()
		return true
	})
	r.mailboxes.Range(func(_ Handle, mb *mailbox) bool {
		mb.wake()
		return true
	})
}

// Reset closes every backlog and mailbox, then forgets them.
func (r *BacklogRegistry) Reset() {
	r.backlogs.Range(func(_ Handle, b *Backlog) bool {
		b.Close()
		return true
	})
	r.mailboxes.Range(func(_ Handle, mb *mailbox) bool {
		mb.closeWrite()
		return true
	})
	r.backlogs.Clear()
	r.mailboxes.Clear()
}
