package rfcomm

import (
	"math/bits"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const (
	// MinChannel is the lowest RFCOMM channel number.
	MinChannel = 1
	// MaxChannel is the highest RFCOMM channel number.
	MaxChannel = 30
)

// allChannels has bits MinChannel..MaxChannel set.
const allChannels uint32 = (1<<(MaxChannel+1) - 1) &^ (1<<MinChannel - 1)

// ServiceRecord is a registered service of a device.
type ServiceRecord struct {
	UUID         uuid.UUID
	ServiceName  string
	Channel      int
	ListenHandle Handle
}

// ServiceRegistry is the per-device table of registered services, each bound to a channel
// number drawn from [MinChannel, MaxChannel].
//
// The uniqueness check and the channel allocation of Register happen under one lock.
type ServiceRegistry struct {
	mu      sync.RWMutex
	owner   Address
	handles *HandleRegistry
	records map[uuid.UUID]ServiceRecord
	used    uint32 // bit n set when channel n is taken
}

// NewServiceRegistry creates an empty registry for the device at owner. Listen handles are
// allocated from handles.
func NewServiceRegistry(owner Address, handles *HandleRegistry) *ServiceRegistry {
	return &ServiceRegistry{
		owner:   owner,
		handles: handles,
		records: make(map[uuid.UUID]ServiceRecord),
	}
}

// Register binds id to the lowest free channel and allocates its listen handle.
//
// It fails with ErrDuplicateRegistration if id is already registered, and with
// ErrNoChannelAvailable when every channel is taken.
func (r *ServiceRegistry) Register(id uuid.UUID, serviceName string) (ServiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; ok {
		return ServiceRecord{}, ErrDuplicateRegistration
	}

	free := allChannels &^ r.used
	if free == 0 {
		return ServiceRecord{}, ErrNoChannelAvailable
	}
	channel := bits.TrailingZeros32(free)
	r.used |= 1 << channel

	rec := ServiceRecord{
		UUID:         id,
		ServiceName:  serviceName,
		Channel:      channel,
		ListenHandle: r.handles.Allocate(r.owner),
	}
	r.records[id] = rec

	return rec, nil
}

// Deregister forgets id and releases its channel. It reports whether id was registered.
func (r *ServiceRegistry) Deregister(id uuid.UUID) (ServiceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ServiceRecord{}, false
	}

	delete(r.records, id)
	r.used &^= 1 << rec.Channel

	return rec, true
}

// Lookup returns the record of id, or ErrServiceNotFound.
func (r *ServiceRegistry) Lookup(id uuid.UUID) (ServiceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return ServiceRecord{}, ErrServiceNotFound
	}

	return rec, nil
}

// LookupByHandle returns the record whose listen handle is h.
func (r *ServiceRegistry) LookupByHandle(h Handle) (ServiceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.ListenHandle == h {
			return rec, true
		}
	}

	return ServiceRecord{}, false
}

// Records returns every registered service ordered by channel.
func (r *ServiceRegistry) Records() []ServiceRecord {
	r.mu.RLock()
	recs := make([]ServiceRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	slices.SortFunc(recs, func(a, b ServiceRecord) int { return a.Channel - b.Channel })

	return recs
}

// Available returns the number of free channels.
func (r *ServiceRegistry) Available() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return bits.OnesCount32(allChannels &^ r.used)
}

// Reset forgets every service.
func (r *ServiceRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.records)
	r.used = 0
}
