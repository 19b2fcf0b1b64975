// Package metrics exposes transport counters as prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransportMetrics records transport-level traffic metrics.
type TransportMetrics struct {
	PacketsIn    prometheus.Counter
	PacketsOut   prometheus.Counter
	PacketsLost  prometheus.Counter
	BytesIn      prometheus.Counter
	BytesOut     prometheus.Counter
	Retransmits  prometheus.Counter
	DecodeErrors prometheus.Counter

	ActiveCircuits prometheus.Gauge

	// Ping observes round-trip samples in milliseconds.
	Ping prometheus.Summary
}

// NewTransportMetrics constructs collectors registered under the given
// service prefix.
func NewTransportMetrics(service string) *TransportMetrics {
	return &TransportMetrics{
		PacketsIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_packets_in_total",
			Help: "The total number of packets received",
		}),
		PacketsOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_packets_out_total",
			Help: "The total number of packets sent",
		}),
		PacketsLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_packets_lost_total",
			Help: "Packets presumed lost from sequence gaps and expired retries",
		}),
		BytesIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_bytes_in_total",
			Help: "Total bytes received",
		}),
		BytesOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_bytes_out_total",
			Help: "Total bytes sent",
		}),
		Retransmits: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_retransmits_total",
			Help: "Reliable packets sent more than once",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: service + "_decode_errors_total",
			Help: "Inbound packets dropped as undecodable",
		}),
		ActiveCircuits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: service + "_circuits",
			Help: "The number of tracked circuits",
		}),
		Ping: promauto.NewSummary(prometheus.SummaryOpts{
			Name: service + "_ping_ms",
			Help: "Round-trip time samples in milliseconds",
		}),
	}
}
