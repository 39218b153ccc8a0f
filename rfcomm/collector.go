package rfcomm

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "rfcomm"

type deviceCounter struct {
	desc  *prometheus.Desc
	value func(m *DeviceMetrics) float64
}

// Collector exports the metrics of every device of a session.
type Collector struct {
	session *Session

	counters       []deviceCounter
	connectedLinks *prometheus.Desc
	services       *prometheus.Desc
	linkEvents     *prometheus.Desc
	handles        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a prometheus collector for session.
func NewCollector(session *Session) *Collector {
	deviceLabels := []string{"device"}
	counter := func(name, help string, value func(m *DeviceMetrics) float64) deviceCounter {
		return deviceCounter{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "device", name), help, deviceLabels, nil),
			value: value,
		}
	}

	return &Collector{
		session: session,
		counters: []deviceCounter{
			counter("listen_total", "Number of services registered.",
				func(m *DeviceMetrics) float64 { return float64(m.ListenCount.Load()) }),
			counter("connect_total", "Number of outbound connections established.",
				func(m *DeviceMetrics) float64 { return float64(m.ConnectCount.Load()) }),
			counter("connect_errors_total", "Number of failed outbound connection attempts.",
				func(m *DeviceMetrics) float64 { return float64(m.ConnectErrCount.Load()) }),
			counter("accept_total", "Number of connection requests accepted.",
				func(m *DeviceMetrics) float64 { return float64(m.AcceptCount.Load()) }),
			counter("written_bytes_total", "Number of bytes written.",
				func(m *DeviceMetrics) float64 { return float64(m.BytesWritten.Load()) }),
			counter("read_bytes_total", "Number of bytes read.",
				func(m *DeviceMetrics) float64 { return float64(m.BytesRead.Load()) }),
			counter("interrupts_total", "Number of operations failed by the interrupt policy.",
				func(m *DeviceMetrics) float64 { return float64(m.InterruptCount.Load()) }),
		},
		connectedLinks: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "device", "connected_links"),
			"Number of connected physical links of the device.",
			deviceLabels, nil,
		),
		services: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "device", "services"),
			"Number of services registered on the device.",
			deviceLabels, nil,
		),
		linkEvents: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "session", "link_events_total"),
			"Number of link state transitions.",
			nil, nil,
		),
		handles: prometheus.NewDesc(
			prometheus.BuildFQName(metricNamespace, "session", "handles"),
			"Number of handles allocated.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, counter := range c.counters {
		ch <- counter.desc
	}
	ch <- c.connectedLinks
	ch <- c.services
	ch <- c.linkEvents
	ch <- c.handles
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, dev := range c.session.Devices() {
		addr := string(dev.addr)
		m := dev.Metrics()
		for _, counter := range c.counters {
			ch <- prometheus.MustNewConstMetric(counter.desc, prometheus.CounterValue, counter.value(m), addr)
		}
		ch <- prometheus.MustNewConstMetric(c.connectedLinks, prometheus.GaugeValue, float64(m.ConnectedLinks.Load()), addr)
		ch <- prometheus.MustNewConstMetric(c.services, prometheus.GaugeValue, float64(len(dev.Services())), addr)
	}

	ch <- prometheus.MustNewConstMetric(c.linkEvents, prometheus.CounterValue, float64(c.session.LinkEventCount()))
	ch <- prometheus.MustNewConstMetric(c.handles, prometheus.GaugeValue, float64(c.session.Handles().Len()))
}
