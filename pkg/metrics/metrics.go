// Package metrics exposes the service's Prometheus metrics.
//
// # Overview
//
// All metrics are registered on the default registry at package init and
// served by the internal HTTP server on /metrics. Label sets stay small:
// destination type, outcome and, for queue depth, the stream id.
//
// # Basic Usage
//
//	start := time.Now()
//	n, err := send(ctx, events)
//	metrics.ObserveSend("s3", time.Since(start), err)
//
//	timer := metrics.NewTimer("flush")
//	flush()
//	metrics.FlushDuration.WithLabelValues("s3").Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

var (
	// EventsPublished counts events accepted by the router.
	// Labels: outcome (enqueued/dropped/no_streams)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_events_published_total",
			Help: "Events offered to the router",
		},
		[]string{"outcome"},
	)

	// EventsDelivered counts events per flush outcome.
	// Labels: destination, status (success/failure)
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_events_delivered_total",
			Help: "Events handed to destinations, by outcome",
		},
		[]string{"destination", "status"},
	)

	// EventsFiltered counts events dropped by stream filters.
	EventsFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_events_filtered_total",
			Help: "Events dropped by stream filters",
		},
		[]string{"destination"},
	)

	// BytesSent counts serialized bytes delivered.
	BytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_bytes_sent_total",
			Help: "Bytes delivered to destinations",
		},
		[]string{"destination"},
	)

	// SendLatency is the latency of a single destination write.
	// Labels: destination, status
	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastream_send_latency_seconds",
			Help:    "Latency of destination writes",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"destination", "status"},
	)

	// FlushDuration covers a whole flush including retries.
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastream_flush_duration_seconds",
			Help:    "Duration of batch flushes including retries",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"destination"},
	)

	// Retries counts retry attempts after a failed flush.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_flush_retries_total",
			Help: "Flush retry attempts",
		},
		[]string{"destination"},
	)

	// QueueDepth is the pending event count per stream.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "datastream_queue_depth",
			Help: "Events waiting in a stream queue",
		},
		[]string{"stream_id"},
	)

	// ActiveProcessors is the number of running stream processors.
	ActiveProcessors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datastream_active_processors",
			Help: "Running stream processors",
		},
	)

	// StreamErrors counts streams moved to error status.
	StreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_stream_errors_total",
			Help: "Streams that exhausted their retry budget",
		},
		[]string{"destination"},
	)

	// BackfillJobs counts finished backfill jobs.
	// Labels: status (completed/failed)
	BackfillJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_backfill_jobs_total",
			Help: "Finished backfill jobs",
		},
		[]string{"status"},
	)

	// BackfillEvents counts historical events replayed.
	BackfillEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datastream_backfill_events_total",
			Help: "Historical events replayed by backfill jobs",
		},
	)

	// IngestMessages counts click messages read from the ingest topic.
	// Labels: outcome (published/invalid)
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastream_ingest_messages_total",
			Help: "Messages consumed from the click topic",
		},
		[]string{"outcome"},
	)
)

// ObserveSend records one destination write of events.
func ObserveSend(destination string, d time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusFailure
	}
	SendLatency.WithLabelValues(destination, status).Observe(d.Seconds())
}

// ObserveFlush records the outcome of a flush.
func ObserveFlush(destination string, sent, failed int, bytes int64) {
	if sent > 0 {
		EventsDelivered.WithLabelValues(destination, statusSuccess).Add(float64(sent))
		BytesSent.WithLabelValues(destination).Add(float64(bytes))
	}
	if failed > 0 {
		EventsDelivered.WithLabelValues(destination, statusFailure).Add(float64(failed))
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
// It captures the start time on creation and calculates elapsed time on stop.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
