// Package metrics exposes Prometheus collectors for the deskshare server.
//
// All methods are safe to call on a nil *Metrics, so components can run
// without a registry (tests, the probe command).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "deskshare").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Metrics holds the collectors.
type Metrics struct {
	connections     prometheus.Gauge
	connectionsOpen prometheus.Counter
	bytesReceived   prometheus.Counter
	framesDecoded   prometheus.Counter
	framesDropped   *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	roomMismatches  prometheus.Counter
	activeRooms     prometheus.Gauge
	viewers         prometheus.Gauge
	viewerDrops     prometheus.Counter
}

func New(config Config) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "deskshare"
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "presenter_connections",
			Help:      "Number of open presenter connections",
		}),
		connectionsOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "presenter_connections_total",
			Help:      "Total number of accepted presenter connections",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "received_bytes_total",
			Help:      "Total bytes read from presenter connections",
		}),
		framesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "frames_decoded_total",
			Help:      "Total number of frames decoded",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames discarded",
		}, []string{"reason"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "events_total",
			Help:      "Total number of decoded events",
		}, []string{"type"}),
		roomMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "room_mismatches_total",
			Help:      "Frames whose room differs from the room bound to the connection",
		}),
		activeRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with a running capture session",
		}),
		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "viewers",
			Help:      "Number of connected viewers",
		}),
		viewerDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "viewer_dropped_messages_total",
			Help:      "Messages dropped because a viewer queue was full",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsOpen.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) BytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) FramesDecoded(n int) {
	if m == nil {
		return
	}
	m.framesDecoded.Add(float64(n))
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RoomMismatches(n int) {
	if m == nil || n == 0 {
		return
	}
	m.roomMismatches.Add(float64(n))
}

func (m *Metrics) SetActiveRooms(n int) {
	if m == nil {
		return
	}
	m.activeRooms.Set(float64(n))
}

func (m *Metrics) ViewerJoined() {
	if m == nil {
		return
	}
	m.viewers.Inc()
}

func (m *Metrics) ViewerLeft() {
	if m == nil {
		return
	}
	m.viewers.Dec()
}

func (m *Metrics) ViewerDropped() {
	if m == nil {
		return
	}
	m.viewerDrops.Inc()
}
