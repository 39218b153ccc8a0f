package rfcomm

import (
	"sync/atomic"
)

// DeviceMetrics contains atomic metrics for a device.
// Metrics can be exported through NewCollector.
type DeviceMetrics struct {
	// ListenCount indicates the number of services successfully registered.
	ListenCount atomic.Uint64
	// ConnectCount indicates the number of outbound connections established.
	ConnectCount atomic.Uint64
	// ConnectErrCount indicates the number of failed outbound connection attempts.
	ConnectErrCount atomic.Uint64
	// AcceptCount indicates the number of requests taken from backlogs.
	AcceptCount atomic.Uint64
	// BytesWritten indicates the number of bytes written by the device.
	BytesWritten atomic.Uint64
	// BytesRead indicates the number of bytes read by the device.
	BytesRead atomic.Uint64
	// InterruptCount indicates the number of operations failed by the interrupt policy.
	InterruptCount atomic.Uint64
	// ConnectedLinks indicates the number of physical links of the device in connected state.
	ConnectedLinks atomic.Int64
}

func (m *DeviceMetrics) incListenCount() {
	m.ListenCount.Add(1)
}

func (m *DeviceMetrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *DeviceMetrics) incConnectErrCount() {
	m.ConnectErrCount.Add(1)
}

func (m *DeviceMetrics) incAcceptCount() {
	m.AcceptCount.Add(1)
}

func (m *DeviceMetrics) addBytesWritten(n int) {
	m.BytesWritten.Add(uint64(n))
}

func (m *DeviceMetrics) addBytesRead(n int) {
	m.BytesRead.Add(uint64(n))
}

func (m *DeviceMetrics) incInterruptCount() {
	m.InterruptCount.Add(1)
}

func (m *DeviceMetrics) updateConnectedLinks(state LinkState) {
	if state.IsConnected() {
		m.ConnectedLinks.Add(1)
	} else {
		m.ConnectedLinks.Add(-1)
	}
}
