package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the engine. All collectors
// are registered on a private registry served by the monitor endpoint so
// tests can create independent instances.
type Metrics struct {
	registry *prometheus.Registry

	controlLinesRx    prometheus.Counter
	controlLinesTx    prometheus.Counter
	responsesMatched  prometheus.Counter
	responsesOrphaned prometheus.Counter

	discoveryBeacons prometheus.Counter
	brokerRadios     prometheus.Counter

	audioPacketsRx   prometheus.Counter
	audioDrops       *prometheus.CounterVec
	opusDecodeErrors prometheus.Counter

	micPacketsTx     prometheus.Counter
	micFramesDropped prometheus.Counter

	eventsDropped prometheus.Counter

	connectionState prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		controlLinesRx: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_control_lines_received_total",
			Help: "Control channel lines received from the radio",
		}),
		controlLinesTx: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_control_lines_sent_total",
			Help: "Control channel commands sent to the radio",
		}),
		responsesMatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_responses_matched_total",
			Help: "Responses delivered to a registered completion",
		}),
		responsesOrphaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_responses_orphaned_total",
			Help: "Responses with no registered completion",
		}),

		discoveryBeacons: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_discovery_beacons_total",
			Help: "LAN discovery beacons accepted",
		}),
		brokerRadios: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_broker_radio_lines_total",
			Help: "SmartLink radio list lines parsed",
		}),

		audioPacketsRx: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_audio_packets_received_total",
			Help: "DAX RX packets accepted after filtering",
		}),
		audioDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexaccess_audio_packets_dropped_total",
			Help: "DAX RX packets dropped, by cause",
		}, []string{"cause"}),
		opusDecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_opus_decode_errors_total",
			Help: "Opus frames that failed to decode",
		}),

		micPacketsTx: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_mic_packets_sent_total",
			Help: "DAX TX packets sent to the radio",
		}),
		micFramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_mic_frames_dropped_total",
			Help: "Mic frames dropped under queue pressure",
		}),

		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexaccess_events_dropped_total",
			Help: "Events dropped for slow subscribers",
		}),

		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flexaccess_connection_state",
			Help: "Control session state (0 disconnected, 1 connecting, 2 connected)",
		}),
	}
}
