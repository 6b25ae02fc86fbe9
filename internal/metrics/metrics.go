// Package metrics registers the Prometheus instruments centrald exposes
// for its fleet of charge point connections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument the orchestrator updates.
type Metrics struct {
	StationsConnected   prometheus.Gauge
	MessagesReceived    *prometheus.CounterVec
	MessagesSent        *prometheus.CounterVec
	ActiveTransactions  prometheus.Gauge
	WatchdogFires       *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	RejectedFrames      *prometheus.CounterVec
}

// New creates and registers the metric set.
func New() *Metrics {
	return &Metrics{
		StationsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "evcentral_stations_connected",
			Help: "Number of charge points with a live WebSocket connection.",
		}),

		MessagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evcentral_ocpp_messages_received_total",
				Help: "Total inbound OCPP frames, by action.",
			},
			[]string{"action"},
		),

		MessagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evcentral_ocpp_messages_sent_total",
				Help: "Total outbound OCPP CALLs, by action.",
			},
			[]string{"action"},
		),

		ActiveTransactions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "evcentral_active_transactions",
			Help: "Number of connectors with an in-flight transaction.",
		}),

		WatchdogFires: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evcentral_watchdog_fires_total",
				Help: "Total no-session watchdog expirations, by cpid.",
			},
			[]string{"cpid"},
		),

		TransactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "evcentral_transaction_duration_seconds",
			Help:    "Duration of completed charging transactions.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12),
		}),

		RejectedFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "evcentral_rejected_frames_total",
				Help: "Total inbound frames rejected before dispatch, by reason.",
			},
			[]string{"reason"},
		),
	}
}
