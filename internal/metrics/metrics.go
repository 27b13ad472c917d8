package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lpr_webhooks_received_total",
			Help: "Webhook payloads received, by detected format",
		},
		[]string{"format"}, // "alarm_trigger", "smart_detection", "unrecognized", "malformed"
	)

	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lpr_records_written_total",
			Help: "Detection records inserted into the warehouse",
		},
		[]string{"source"},
	)

	SinkErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lpr_sink_errors_total",
			Help: "Failed warehouse inserts",
		},
	)

	ThumbnailOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lpr_thumbnail_outcomes_total",
			Help: "Thumbnail attempts per artifact slot and source",
		},
		[]string{"slot", "source", "result"}, // result: "stored", "failed"
	)

	BackfillEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lpr_backfill_events_total",
			Help: "Events seen by the backfill driver",
		},
		[]string{"result"}, // "processed", "duplicate", "failed"
	)

	NVRRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lpr_nvr_requests_total",
			Help: "Requests to the UniFi Protect API",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	// 0 = closed, 1 = half-open, 2 = open
	NVRCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lpr_nvr_circuit_state",
			Help: "Circuit breaker state for the UniFi Protect API",
		},
	)
)
