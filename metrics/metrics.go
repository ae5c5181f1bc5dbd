// Package metrics exposes Prometheus collectors for the SMTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrop_connections_accepted_total",
			Help: "Total number of accepted client connections",
		},
		[]string{"family"},
	)

	WorkerAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrop_worker_assignments_total",
			Help: "Connections handed to each worker",
		},
		[]string{"worker"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maildrop_sessions_active",
			Help: "Sessions currently owned by workers",
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maildrop_session_duration_seconds",
			Help:    "Lifetime of client sessions in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	SessionTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maildrop_session_timeouts_total",
			Help: "Sessions closed because the client stayed idle past its deadline",
		},
	)
)

// Protocol metrics
var (
	Replies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrop_replies_total",
			Help: "Replies sent to clients by reply code",
		},
		[]string{"code"},
	)

	HeloVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrop_helo_verifications_total",
			Help: "HELO/EHLO sender verifications by result",
		},
		[]string{"result"},
	)
)

// Delivery metrics
var (
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrop_deliveries_total",
			Help: "Spooled messages by destination folder",
		},
		[]string{"destination"},
	)

	DeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrop_delivery_errors_total",
			Help: "Spool operations that failed",
		},
		[]string{"operation"},
	)

	MessageSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maildrop_message_size_bytes",
			Help:    "Size of spooled messages in bytes",
			Buckets: prometheus.ExponentialBuckets(512, 4, 8),
		},
	)
)
