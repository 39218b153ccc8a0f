package rfcomm

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/arloliu/go-rfcomm/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// DeviceLocator resolves an address to the device owning it.
type DeviceLocator interface {
	Device(addr Address) (*Device, bool)
}

// defaultEventBufferSize is the channel capacity of event subscriptions.
const defaultEventBufferSize = 16

// Session is one simulated radio environment: the shared handle, backlog and link registries
// plus the devices taking part in a scenario.
//
// Session implements DeviceLocator for its devices.
type Session struct {
	cfg    SessionConfig
	logger logger.Logger

	handles  *HandleRegistry
	backlogs *BacklogRegistry
	links    *LinkRegistry
	devices  *xsync.MapOf[Address, *Device]

	events     *eventBus
	linkEvents *xsync.Counter

	wakeMu sync.Mutex
	wake   chan struct{}
}

var (
	_ DeviceLocator = (*Session)(nil)
	_ Waker         = (*Session)(nil)
)

// NewSession creates an empty session.
func NewSession(opts ...SessionOption) (*Session, error) {
	cfg := SessionConfig{
		eventBufferSize: defaultEventBufferSize,
		logger:          logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(&cfg); err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:        cfg,
		logger:     cfg.logger,
		handles:    NewHandleRegistry(),
		backlogs:   NewBacklogRegistry(),
		devices:    xsync.NewMapOf[Address, *Device](),
		events:     newEventBus(cfg.eventBufferSize),
		linkEvents: xsync.NewCounter(),
		wake:       make(chan struct{}),
	}
	s.links = NewLinkRegistry(s.handles, s.backlogs, s.onLinkTransition, s.logger)

	return s, nil
}

// AddDevice creates the device for addr. Options default to the session logger.
//
// It fails with ErrDeviceExists if addr already has a device.
func (s *Session) AddDevice(addr Address, opts ...DeviceOption) (*Device, error) {
	if addr == "" {
		return nil, errors.New("device address is empty")
	}

	cfg, err := NewDeviceConfig(append([]DeviceOption{WithLogger(s.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	dev := newDevice(s, addr, cfg)
	if _, loaded := s.devices.LoadOrStore(addr, dev); loaded {
		return nil, wrapOpErr(fault.Wrap(ErrDeviceExists, fmsg.With("address "+string(addr)+" is taken")), "add_device", addr)
	}
	s.logger.Debug("device added", "device", addr, "protocol", cfg.protocolVersion)

	return dev, nil
}

// Device implements DeviceLocator.
func (s *Session) Device(addr Address) (*Device, bool) {
	return s.devices.Load(addr)
}

// Devices returns every device ordered by address.
func (s *Session) Devices() []*Device {
	devs := make([]*Device, 0, s.devices.Size())
	s.devices.Range(func(_ Address, dev *Device) bool {
		devs = append(devs, dev)
		return true
	})
	slices.SortFunc(devs, func(a, b *Device) int { return cmp.Compare(a.addr, b.addr) })

	return devs
}

// Handles returns the handle registry of the session.
func (s *Session) Handles() *HandleRegistry { return s.handles }

// Backlogs returns the backlog registry of the session.
func (s *Session) Backlogs() *BacklogRegistry { return s.backlogs }

// Links returns the link registry of the session.
func (s *Session) Links() *LinkRegistry { return s.links }

// LinkEventCount returns the number of link state transitions since the last reset.
func (s *Session) LinkEventCount() int64 {
	return s.linkEvents.Value()
}

// Subscribe returns a channel receiving a LinkEvent for every link state transition seen by
// the given local addresses, or by any address when none is given. The returned function
// cancels the subscription.
func (s *Session) Subscribe(addrs ...Address) (<-chan any, func()) {
	return s.events.subscribe(addrs...)
}

// WakeWaiters releases every blocked Accept, Connect and Read of the session so it re-polls
// its interrupt policy. Calls whose policy does not report an error resume waiting.
func (s *Session) WakeWaiters() {
	s.wakeMu.Lock()
	close(s.wake)
	s.wake = make(chan struct{})
	s.wakeMu.Unlock()

	s.backlogs.wakeAll()
}

func (s *Session) wakeChan() <-chan struct{} {
	s.wakeMu.Lock()
	defer s.wakeMu.Unlock()

	return s.wake
}

// Reset tears the session down to an empty state: blocked calls are released with
// ErrBacklogClosed or ErrConnectionClosed, every device, handle and link is forgotten and the
// handle counter restarts.
func (s *Session) Reset() {
	s.devices.Range(func(_ Address, dev *Device) bool {
		dev.reset()
		return true
	})
	s.backlogs.Reset()
	s.links.Reset()
	s.handles.Reset()
	s.devices.Clear()
	s.linkEvents.Reset()

	s.logger.Debug("session reset")
}

// Close resets the session and shuts the event bus down, closing every subscription channel.
func (s *Session) Close() {
	s.Reset()
	s.events.shutdown()
}

// onLinkTransition notifies both devices of the link and publishes one event per address.
func (s *Session) onLinkTransition(link *PhysicalLink, prevState LinkState, newState LinkState) {
	s.linkEvents.Inc()

	for _, local := range link.addrs {
		peer := link.Other(local)
		if dev, ok := s.devices.Load(local); ok {
			dev.onLinkStateChange(peer, prevState, newState)
		}
		s.events.publish(LinkEvent{
			Local:     local,
			Peer:      peer,
			State:     newState,
			Encrypted: link.IsEncrypted(),
		})
	}
}
