// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames delivered by capture backends
	CaptureFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_capture_frames_total",
			Help: "Total number of frames delivered by the capture backend",
		},
		[]string{"backend", "interface"},
	)

	// CaptureDropsTotal counts frames dropped before reaching the session filter
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_capture_drops_total",
			Help: "Total number of frames dropped before session filtering",
		},
		[]string{"backend", "stage"},
	)

	// CaptureStallsTotal counts frames that waited for room in the frame channel
	CaptureStallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_capture_stalls_total",
			Help: "Total number of frames the capture backend had to wait to deliver",
		},
		[]string{"backend"},
	)

	// ReassemblyPendingDatagrams tracks IPv4 datagrams awaiting fragments
	ReassemblyPendingDatagrams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "satchel_ip_reassembly_pending_datagrams",
			Help: "Number of IPv4 datagrams awaiting more fragments",
		},
	)

	// SegmentsTotal counts transport segments routed to a direction
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_segments_total",
			Help: "Total number of game transport segments by direction and outcome",
		},
		[]string{"direction", "outcome"}, // outcome: accepted | duplicate | clipped | dropped
	)

	// StreamBufferedBytes tracks bytes held in the reorder buffer
	StreamBufferedBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "satchel_stream_buffered_bytes",
			Help: "Bytes held in the stream reorder buffer awaiting a gap fill",
		},
		[]string{"direction"},
	)

	// MessagesTotal counts decoded application messages by command
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_messages_total",
			Help: "Total number of application messages by command and result",
		},
		[]string{"command", "result"}, // result: decoded | skipped | error
	)

	// MessageSizeBytes measures decoded payload sizes
	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "satchel_message_size_bytes",
			Help:    "Size of decompressed application message payloads",
			Buckets: prometheus.ExponentialBuckets(16, 4, 10), // 16B to 4MB
		},
	)

	// RecordsAppliedTotal counts domain records applied to the inventory
	RecordsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_records_applied_total",
			Help: "Total number of domain records applied to the inventory",
		},
		[]string{"kind"},
	)

	// PendingDeltas tracks deltas waiting for their base record
	PendingDeltas = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "satchel_pending_deltas",
			Help: "Number of artifact deltas buffered until their base record arrives",
		},
	)

	// SessionStatusTotal counts session status events by kind
	SessionStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_session_status_total",
			Help: "Total number of session status events by kind",
		},
		[]string{"kind"},
	)

	// ReporterErrorsTotal counts reporter errors by name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satchel_reporter_errors_total",
			Help: "Total number of status reporter errors",
		},
		[]string{"reporter"},
	)
)
