package rfcomm

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/arloliu/go-rfcomm/internal/util"
	"github.com/arloliu/go-rfcomm/logger"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// LinkStateChangeHandler is invoked when a physical link of the device changes state.
//
// Handlers run synchronously on the goroutine that added or removed the pairing, one
// transition at a time. They may query the link, but must not add or remove pairings, since
// that would wait for the handler itself.
type LinkStateChangeHandler func(dev *Device, peer Address, prevState LinkState, newState LinkState)

// PendingConnection describes an accepted request whose initiator is still blocked in Connect.
type PendingConnection struct {
	RemoteAddress Address
	ClientHandle  Handle
	Channel       int
}

// Device is the protocol orchestrator of one simulated address.
//
// All methods are safe for concurrent use. Blocking methods (Accept, Connect, Read, ReadByte)
// have no timeout; they return when the awaited event happens, when the handle is closed, or
// when the interrupt policy of the device reports an error.
type Device struct {
	addr     Address
	cfg      *DeviceConfig
	session  *Session
	logger   logger.Logger
	services *ServiceRegistry

	// pendingOut holds the requests this device initiated, keyed by client handle.
	pendingOut *xsync.MapOf[Handle, *ConnectionRequest]
	// pendingIn holds the accepted requests not yet completed, keyed by server handle.
	pendingIn *xsync.MapOf[Handle, *ConnectionRequest]

	handlersMu sync.RWMutex
	handlers   []LinkStateChangeHandler

	metrics DeviceMetrics
}

func newDevice(s *Session, addr Address, cfg *DeviceConfig) *Device {
	return &Device{
		addr:       addr,
		cfg:        cfg,
		session:    s,
		logger:     cfg.logger.With("device", string(addr)),
		services:   NewServiceRegistry(addr, s.handles),
		pendingOut: xsync.NewMapOf[Handle, *ConnectionRequest](),
		pendingIn:  xsync.NewMapOf[Handle, *ConnectionRequest](),
	}
}

// Address returns the address of the device.
func (d *Device) Address() Address { return d.addr }

// Logger returns the logger of the device.
func (d *Device) Logger() logger.Logger { return d.logger }

// Metrics returns the metrics of the device.
func (d *Device) Metrics() *DeviceMetrics { return &d.metrics }

// Session returns the session the device belongs to.
func (d *Device) Session() *Session { return d.session }

// AddLinkStateHandler registers handlers invoked on every state change of a link of the device.
func (d *Device) AddLinkStateHandler(handlers ...LinkStateChangeHandler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()

	d.handlers = append(d.handlers, handlers...)
}

// WakeWaiters releases every blocked call of the session so it re-polls its interrupt policy.
func (d *Device) WakeWaiters() {
	d.session.WakeWaiters()
}

// Listen registers the service id and opens its listening endpoint.
//
// The assigned channel number is written into the listen handle's mailbox as a 4-byte
// little-endian integer, readable with ReadByte("", handle).
func (d *Device) Listen(id uuid.UUID, serviceName string) (Handle, error) {
	const op = "listen"

	if err := d.checkInterrupt(); err != nil {
		return InvalidHandle, wrapOpErr(err, op, d.addr)
	}

	rec, err := d.services.Register(id, serviceName)
	if err != nil {
		d.logger.Warn("service registration failed", "uuid", id, "name", serviceName, "error", err)
		return InvalidHandle, wrapOpErr(err, op, d.addr)
	}

	d.session.backlogs.Create(rec.ListenHandle, d.addr, d.connInfoFrame)

	var channel [4]byte
	binary.LittleEndian.PutUint32(channel[:], uint32(rec.Channel))
	_ = d.session.backlogs.inbox(rec.ListenHandle).put(util.BytesToInts(channel[:])...)

	d.metrics.incListenCount()
	d.logger.Debug("service registered", "uuid", id, "name", serviceName, "channel", rec.Channel, "handle", rec.ListenHandle)

	return rec.ListenHandle, nil
}

// Deregister forgets the service id and releases its channel number.
//
// The listening endpoint stays open: requests already posted keep the channel captured when
// they were posted and can still be accepted. Close the listen handle to stop accepting.
func (d *Device) Deregister(id uuid.UUID) bool {
	rec, ok := d.services.Deregister(id)
	if ok {
		d.logger.Debug("service deregistered", "uuid", id, "channel", rec.Channel)
	}

	return ok
}

// Services returns the registered services ordered by channel.
func (d *Device) Services() []ServiceRecord {
	return d.services.Records()
}

// Lookup returns the registered service id.
func (d *Device) Lookup(id uuid.UUID) (ServiceRecord, error) {
	rec, err := d.services.Lookup(id)
	if err != nil {
		return rec, wrapOpErr(err, "lookup", d.addr)
	}

	return rec, nil
}

// Connect opens a stream to the service id of the device at remote and returns the client
// handle. It blocks until the remote accepted and completed the connection.
//
// It fails with ErrServiceNotFound when remote is unknown or has no such service.
func (d *Device) Connect(remote Address, id uuid.UUID) (Handle, error) {
	client, err := d.connect(remote, id)
	if err != nil {
		d.metrics.incConnectErrCount()
		d.logger.Warn("connect failed", "remote", remote, "uuid", id, "error", err)

		return InvalidHandle, wrapOpErr(err, "connect", d.addr)
	}

	d.metrics.incConnectCount()
	d.logger.Debug("connected", "remote", remote, "uuid", id, "handle", client)

	return client, nil
}

func (d *Device) connect(remote Address, id uuid.UUID) (Handle, error) {
	if err := d.checkInterrupt(); err != nil {
		return InvalidHandle, err
	}

	peer, ok := d.locate(remote)
	if !ok {
		return InvalidHandle, fault.Wrap(ErrServiceNotFound, fmsg.With("unknown remote device "+string(remote)))
	}

	rec, err := peer.services.Lookup(id)
	if err != nil {
		return InvalidHandle, err
	}

	backlog, ok := d.session.backlogs.Get(rec.ListenHandle)
	if !ok {
		return InvalidHandle, ErrServiceNotFound
	}

	client := d.session.handles.Allocate(d.addr)
	server := d.session.handles.Allocate(peer.addr)
	_ = d.session.backlogs.inbox(client).put(util.BytesToInts(d.connInfoFrame(peer.addr, rec.Channel))...)

	req := newConnectionRequest(client, server, d.addr, peer.addr, rec.Channel)
	d.pendingOut.Store(client, req)

	if err := backlog.Post(req); err != nil {
		d.pendingOut.Delete(client)
		d.session.handles.Release(client)
		d.session.handles.Release(server)

		return InvalidHandle, err
	}
	d.logger.Debug("connection request posted", "remote", peer.addr, "channel", rec.Channel, "client", client, "server", server)

	if err := d.awaitCompletion(req); err != nil {
		d.pendingOut.Delete(client)
		return InvalidHandle, err
	}

	return client, nil
}

// awaitCompletion blocks on the request latch, re-polling the interrupt policy on every wake up.
func (d *Device) awaitCompletion(req *ConnectionRequest) error {
	for {
		wake := d.session.wakeChan()
		if err := d.checkInterrupt(); err != nil {
			return err
		}

		select {
		case <-req.Done():
			return req.Err()
		case <-wake:
		}
	}
}

// Accept returns the server handle of the next request posted to the listen handle, blocking
// until one arrives. The initiator stays blocked until CompleteAccept or
// FinishPendingConnection is called.
//
// It fails with ErrBacklogClosed once the listen handle is closed.
func (d *Device) Accept(listen Handle) (Handle, error) {
	const op = "accept"

	if err := d.checkInterrupt(); err != nil {
		return InvalidHandle, wrapOpErr(err, op, d.addr)
	}
	if err := d.checkOwner(listen); err != nil {
		return InvalidHandle, wrapOpErr(err, op, d.addr)
	}

	backlog, ok := d.session.backlogs.Get(listen)
	if !ok {
		return InvalidHandle, wrapOpErr(ErrInvalidHandle, op, d.addr)
	}

	req, err := backlog.takeNext(d.checkInterrupt)
	if err != nil {
		return InvalidHandle, wrapOpErr(err, op, d.addr)
	}
	d.pendingIn.Store(req.ServerHandle, req)

	d.metrics.incAcceptCount()
	d.logger.Debug("connection accepted", "remote", req.ClientAddress, "channel", req.Channel, "handle", req.ServerHandle)

	return req.ServerHandle, nil
}

// PendingConnection returns the request accepted on the server handle that is not completed yet.
func (d *Device) PendingConnection(server Handle) (PendingConnection, bool) {
	req, ok := d.pendingIn.Load(server)
	if !ok {
		return PendingConnection{}, false
	}

	return PendingConnection{
		RemoteAddress: req.ClientAddress,
		ClientHandle:  req.ClientHandle,
		Channel:       req.Channel,
	}, true
}

// CompleteAccept completes the connection accepted on the server handle. It resolves the
// initiator's device and calls FinishPendingConnection on it.
func (d *Device) CompleteAccept(server Handle, encrypted bool) error {
	const op = "complete_accept"

	if err := d.checkInterrupt(); err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	req, ok := d.pendingIn.Load(server)
	if !ok {
		return wrapOpErr(ErrNoPendingConnection, op, d.addr)
	}

	peer, ok := d.locate(req.ClientAddress)
	if !ok {
		return wrapOpErr(fault.Wrap(ErrServiceNotFound, fmsg.With("unknown initiator "+string(req.ClientAddress))), op, d.addr)
	}

	if err := peer.finish(d.addr, req.ClientHandle, encrypted); err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	return nil
}

// FinishPendingConnection completes the connection the device initiated with client towards
// remote. It pairs both handles on the physical link between the two addresses, marks the link
// encrypted if requested and unblocks Connect.
//
// It is called by the acceptor once Accept returned.
func (d *Device) FinishPendingConnection(remote Address, client Handle, encrypted bool) error {
	if err := d.checkInterrupt(); err != nil {
		return wrapOpErr(err, "finish_pending_connection", d.addr)
	}

	return wrapOpErr(d.finish(remote, client, encrypted), "finish_pending_connection", d.addr)
}

func (d *Device) finish(remote Address, client Handle, encrypted bool) error {
	req, ok := d.pendingOut.Load(client)
	if !ok {
		return ErrNoPendingConnection
	}
	if req.ServerAddress != remote {
		return fault.Wrap(ErrNotOwner, fmsg.With("request was posted to "+string(req.ServerAddress)))
	}
	if _, ok := d.pendingOut.LoadAndDelete(client); !ok {
		return ErrNoPendingConnection
	}

	link := d.session.links.GetOrCreate(d.addr, remote)
	if encrypted {
		link.Encrypt()
	}

	if err := link.AddStreamPairing(client, req.ServerHandle); err != nil {
		req.abort(err)
		return err
	}

	if peer, ok := d.locate(remote); ok {
		peer.pendingIn.Delete(req.ServerHandle)
	}
	req.complete()

	d.logger.Debug("pending connection finished", "remote", remote, "client", client, "server", req.ServerHandle, "encrypted", link.IsEncrypted())

	return nil
}

// ReadByte reads the next byte received on h, blocking until one is available.
//
// An empty remote reads the handle's own mailbox, which holds the pre-stream data (connection
// info frame or channel number) followed by the stream data. A non-empty remote reads through
// the physical link to that address; after the pairing is removed it drains what the peer
// sent before failing with ErrConnectionClosed. An end-of-stream marker is reported as io.EOF.
func (d *Device) ReadByte(remote Address, h Handle) (byte, error) {
	v, _, err := d.readValue(remote, h)
	if err != nil {
		return 0, d.readErr(err)
	}
	d.metrics.addBytesRead(1)

	return byte(v), nil
}

// Read blocks until at least one byte is available on h, then reads as many immediately
// available bytes as fit into p. The remote parameter has the same meaning as for ReadByte.
func (d *Device) Read(remote Address, h Handle, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	v, mb, err := d.readValue(remote, h)
	if err != nil {
		return 0, d.readErr(err)
	}

	p[0] = byte(v)
	n := 1 + mb.drainInto(p[1:])
	d.metrics.addBytesRead(n)

	return n, nil
}

func (d *Device) readValue(remote Address, h Handle) (int, *mailbox, error) {
	if err := d.checkInterrupt(); err != nil {
		return 0, nil, err
	}

	mb, err := d.inbound(remote, h)
	if err != nil {
		return 0, nil, err
	}

	v, err := mb.take(d.checkInterrupt)
	if err != nil {
		return 0, nil, err
	}
	if v == EndOfStream {
		return 0, nil, io.EOF
	}

	return v, mb, nil
}

func (d *Device) readErr(err error) error {
	if err == io.EOF {
		return err
	}

	return wrapOpErr(err, "read", d.addr)
}

// ReadConnectionInfo reads and decodes the connection-info frame at the head of h's mailbox.
func (d *Device) ReadConnectionInfo(remote Address, h Handle) (ConnectionInfo, error) {
	head := make([]byte, 2)
	for i := range head {
		b, err := d.ReadByte(remote, h)
		if err != nil {
			return ConnectionInfo{}, err
		}
		head[i] = b
	}

	size := int(binary.LittleEndian.Uint16(head))
	if size != connInfoLegacySize && size != connInfoExtendedSize {
		return ConnectionInfo{}, wrapOpErr(fault.Wrap(ErrInvalidConnInfo, fmsg.With("unexpected frame size")), "read_connection_info", d.addr)
	}

	frame := make([]byte, size)
	copy(frame, head)
	for i := 2; i < size; i++ {
		b, err := d.ReadByte(remote, h)
		if err != nil {
			return ConnectionInfo{}, err
		}
		frame[i] = b
	}

	ci, err := ParseConnectionInfo(frame)
	if err != nil {
		return ci, wrapOpErr(err, "read_connection_info", d.addr)
	}

	return ci, nil
}

// Write sends p to the other end of the pairing of h.
//
// A non-empty remote routes through the physical link to that address. An empty remote uses
// the link h is paired on, or h's own mailbox while h is not paired. It fails with
// ErrConnectionClosed once h or its pairing is closed.
func (d *Device) Write(remote Address, h Handle, p []byte) error {
	const op = "write"

	if err := d.checkInterrupt(); err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	mb, err := d.outbound(remote, h)
	if err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	if err := mb.put(util.BytesToInts(p)...); err != nil {
		return wrapOpErr(err, op, d.addr)
	}
	d.metrics.addBytesWritten(len(p))

	return nil
}

// WriteByte sends a single byte, see Write.
func (d *Device) WriteByte(remote Address, h Handle, b byte) error {
	return d.Write(remote, h, []byte{b})
}

// ShutdownInput queues an end-of-stream marker into h's own mailbox. The next read past the
// already queued bytes returns io.EOF.
func (d *Device) ShutdownInput(remote Address, h Handle) error {
	const op = "shutdown_input"

	if err := d.checkInterrupt(); err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	mb, err := d.inbound(remote, h)
	if err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	return wrapOpErr(mb.put(EndOfStream), op, d.addr)
}

// ShutdownOutput queues an end-of-stream marker into the mailbox of the other end of the
// pairing. The peer reads io.EOF once it consumed everything written before. An empty remote
// on an unpaired handle queues the marker into h's own mailbox, as Write does.
func (d *Device) ShutdownOutput(remote Address, h Handle) error {
	const op = "shutdown_output"

	if err := d.checkInterrupt(); err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	mb, err := d.outbound(remote, h)
	if err != nil {
		return wrapOpErr(err, op, d.addr)
	}

	return wrapOpErr(mb.put(EndOfStream), op, d.addr)
}

// Close releases h. It is idempotent and does not poll the interrupt policy.
//
// Closing a listen handle closes its backlog, so one blocked Accept returns ErrBacklogClosed,
// and deregisters its service. Closing a paired handle sends end-of-stream to the peer and
// removes the pairing; the link disconnects when that was its last pairing. Closing any other
// handle closes its mailbox and aborts a connection still waiting on it.
func (d *Device) Close(h Handle) error {
	if err := d.checkOwner(h); err != nil {
		return wrapOpErr(err, "close", d.addr)
	}

	if !d.session.handles.Release(h) {
		return nil
	}

	if backlog, ok := d.session.backlogs.Get(h); ok {
		backlog.Close()
		if rec, ok := d.services.LookupByHandle(h); ok {
			d.services.Deregister(rec.UUID)
		}
		d.session.backlogs.inbox(h).closeWrite()
		d.logger.Debug("listen handle closed", "handle", h)

		return nil
	}

	if link, ok := d.session.links.LinkOf(h); ok {
		if mb, err := link.outbound(d.addr, h); err == nil {
			_ = mb.put(EndOfStream)
		}
		link.RemoveStreamPairing(h)
		d.logger.Debug("stream handle closed", "handle", h, "remote", link.Other(d.addr))

		return nil
	}

	if req, ok := d.pendingIn.LoadAndDelete(h); ok {
		req.abort(ErrConnectionClosed)
	}
	if req, ok := d.pendingOut.LoadAndDelete(h); ok {
		req.abort(ErrConnectionClosed)
	}
	d.session.backlogs.inbox(h).closeWrite()
	d.logger.Debug("handle closed", "handle", h)

	return nil
}

// Peer returns the handle at the other end of the pairing of h.
func (d *Device) Peer(h Handle) (Handle, bool) {
	link, ok := d.session.links.LinkOf(h)
	if !ok {
		return InvalidHandle, false
	}

	return link.Peer(h)
}

// Link returns the physical link between the device and remote, if any connection was made.
func (d *Device) Link(remote Address) (*PhysicalLink, bool) {
	return d.session.links.Get(d.addr, remote)
}

func (d *Device) inbound(remote Address, h Handle) (*mailbox, error) {
	if err := d.checkOwner(h); err != nil {
		return nil, err
	}

	if remote == "" {
		return d.session.backlogs.inbox(h), nil
	}

	if link, ok := d.session.links.Get(d.addr, remote); ok {
		mb, err := link.inbound(d.addr, h)
		if !errors.Is(err, ErrConnectionClosed) {
			return mb, err
		}
	}

	// A removed pairing leaves h's closed mailbox behind, still holding what the peer sent
	// before it closed.
	if mb, ok := d.session.backlogs.closedInbox(h); ok {
		return mb, nil
	}

	return nil, ErrConnectionClosed
}

func (d *Device) outbound(remote Address, h Handle) (*mailbox, error) {
	if err := d.checkOwner(h); err != nil {
		return nil, err
	}

	if remote == "" {
		if link, ok := d.session.links.LinkOf(h); ok {
			return link.outbound(d.addr, h)
		}

		return d.session.backlogs.inbox(h), nil
	}

	link, ok := d.session.links.Get(d.addr, remote)
	if !ok {
		return nil, ErrConnectionClosed
	}

	return link.outbound(d.addr, h)
}

func (d *Device) checkOwner(h Handle) error {
	owner, ok := d.session.handles.Owner(h)
	if !ok {
		return ErrInvalidHandle
	}
	if owner != d.addr {
		return ErrNotOwner
	}

	return nil
}

func (d *Device) checkInterrupt() error {
	err := checkInterrupt(d.cfg.interrupt)
	if err != nil {
		d.metrics.incInterruptCount()
	}

	return err
}

func (d *Device) locate(addr Address) (*Device, bool) {
	loc := d.cfg.locator
	if loc == nil {
		loc = d.session
	}

	dev, ok := loc.Device(addr)
	if !ok || dev == nil || dev.session != d.session {
		return nil, false
	}

	return dev, true
}

// connInfoFrame builds the connection-info frame this device writes for peer and channel.
func (d *Device) connInfoFrame(peer Address, channel int) []byte {
	ci := ConnectionInfo{
		Version:         d.cfg.protocolVersion,
		PeerID:          peer.WireID(),
		Channel:         int32(channel),
		Status:          StatusSuccess,
		MaxTxPacketSize: d.cfg.maxTxPacketSize,
		MaxRxPacketSize: d.cfg.maxRxPacketSize,
	}

	// the version is validated by WithProtocolVersion
	frame, _ := ci.MarshalBinary()

	return frame
}

func (d *Device) onLinkStateChange(peer Address, prevState LinkState, newState LinkState) {
	d.metrics.updateConnectedLinks(newState)
	d.logger.Debug("link state changed", "remote", peer, "prevState", prevState, "newState", newState)

	d.handlersMu.RLock()
	handlers := d.handlers
	d.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(d, peer, prevState, newState)
	}
}

// reset aborts every connection the device is waiting on and forgets its services.
func (d *Device) reset() {
	d.pendingOut.Range(func(_ Handle, req *ConnectionRequest) bool {
		req.abort(ErrConnectionClosed)
		return true
	})
	d.pendingOut.Clear()
	d.pendingIn.Clear()
	d.services.Reset()
}
