package rfcomm

import (
	"github.com/ugorji/go/codec"
)

// SessionSnapshot is a point-in-time view of a session.
type SessionSnapshot struct {
	Devices    []DeviceSnapshot `json:"devices"`
	Links      []LinkSnapshot   `json:"links"`
	Handles    int              `json:"handles"`
	LinkEvents int64            `json:"link_events"`
}

// DeviceSnapshot is a point-in-time view of a device.
type DeviceSnapshot struct {
	Address         string            `json:"address"`
	Protocol        string            `json:"protocol"`
	Services        []ServiceSnapshot `json:"services"`
	PendingOutbound int               `json:"pending_outbound"`
	PendingInbound  int               `json:"pending_inbound"`
	ConnectedLinks  int64             `json:"connected_links"`
}

// ServiceSnapshot is a registered service and the size of its backlog.
type ServiceSnapshot struct {
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	Channel      int    `json:"channel"`
	ListenHandle uint64 `json:"listen_handle"`
	Backlog      int    `json:"backlog"`
}

// LinkSnapshot is a physical link and its active stream pairings.
type LinkSnapshot struct {
	A         string            `json:"a"`
	B         string            `json:"b"`
	State     string            `json:"state"`
	Encrypted bool              `json:"encrypted"`
	Pairings  []PairingSnapshot `json:"pairings"`
}

// PairingSnapshot is one stream pairing of a link.
type PairingSnapshot struct {
	A uint64 `json:"a"`
	B uint64 `json:"b"`
}

var snapshotJSONHandle = newSnapshotJSONHandle()

func newSnapshotJSONHandle() *codec.JsonHandle {
	h := &codec.JsonHandle{}
	h.ErrorIfNoField = true
	h.TypeInfos = codec.NewTypeInfos([]string{"json"})

	return h
}

// EncodeJSON encodes the snapshot as JSON.
func (s SessionSnapshot) EncodeJSON() ([]byte, error) {
	var data []byte
	if err := codec.NewEncoderBytes(&data, snapshotJSONHandle).Encode(s); err != nil {
		return nil, err
	}

	return data, nil
}

// DecodeSnapshotJSON decodes a snapshot produced by EncodeJSON.
func DecodeSnapshotJSON(data []byte) (SessionSnapshot, error) {
	var s SessionSnapshot
	err := codec.NewDecoderBytes(data, snapshotJSONHandle).Decode(&s)

	return s, err
}

// Snapshot captures the devices, services and links of the session.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		Devices:    []DeviceSnapshot{},
		Links:      []LinkSnapshot{},
		Handles:    s.handles.Len(),
		LinkEvents: s.LinkEventCount(),
	}

	for _, dev := range s.Devices() {
		snap.Devices = append(snap.Devices, dev.snapshot())
	}

	for _, link := range s.links.Links() {
		a, b := link.Addresses()
		ls := LinkSnapshot{
			A:         string(a),
			B:         string(b),
			State:     link.State().String(),
			Encrypted: link.IsEncrypted(),
			Pairings:  []PairingSnapshot{},
		}
		for _, p := range link.Pairings() {
			ls.Pairings = append(ls.Pairings, PairingSnapshot{A: uint64(p.A), B: uint64(p.B)})
		}
		snap.Links = append(snap.Links, ls)
	}

	return snap
}

func (d *Device) snapshot() DeviceSnapshot {
	ds := DeviceSnapshot{
		Address:         string(d.addr),
		Protocol:        d.cfg.protocolVersion.String(),
		Services:        []ServiceSnapshot{},
		PendingOutbound: d.pendingOut.Size(),
		PendingInbound:  d.pendingIn.Size(),
		ConnectedLinks:  d.metrics.ConnectedLinks.Load(),
	}

	for _, rec := range d.services.Records() {
		ss := ServiceSnapshot{
			UUID:         rec.UUID.String(),
			Name:         rec.ServiceName,
			Channel:      rec.Channel,
			ListenHandle: uint64(rec.ListenHandle),
		}
		if b, ok := d.session.backlogs.Get(rec.ListenHandle); ok {
			ss.Backlog = b.Len()
		}
		ds.Services = append(ds.Services, ss)
	}

	return ds
}
