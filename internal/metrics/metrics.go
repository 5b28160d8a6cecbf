// Package metrics exposes Prometheus instrumentation for the reading service.
//
// Metrics exposed:
//   - climatecloud_readings_received_total: readings offered to the store, by transport
//   - climatecloud_readings_invalid_total: rejected payloads, by transport
//   - climatecloud_readings_recorded_total: accepted readings, by whether they changed history
//   - climatecloud_history_size: current number of history entries
//   - climatecloud_history_evictions_total: entries pushed out of the bounded history
//   - climatecloud_persist_queue_depth: readings waiting for the durable backend
//   - climatecloud_persist_write_duration_seconds: durable write latency, by op
//   - climatecloud_persistence_failures_total: durable writes given up on, by op and reason
//   - climatecloud_change_events_total: change events sent to the event sink, by result
//   - climatecloud_http_requests_total: HTTP requests, by method and status
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "climatecloud"

type Metrics struct {
	ReadingsReceived     *prometheus.CounterVec
	ReadingsInvalid      *prometheus.CounterVec
	ReadingsRecorded     *prometheus.CounterVec
	HistorySize          prometheus.Gauge
	HistoryEvictions     prometheus.Counter
	PersistQueueDepth    prometheus.Gauge
	PersistWriteDuration *prometheus.HistogramVec
	PersistenceFailures  *prometheus.CounterVec
	ChangeEvents         *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer in
// the server and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReadingsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_received_total",
			Help:      "Readings offered to the store by transport",
		}, []string{"transport"}),

		ReadingsInvalid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_invalid_total",
			Help:      "Payloads rejected as invalid by transport",
		}, []string{"transport"}),

		ReadingsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_recorded_total",
			Help:      "Accepted readings by whether they were appended to history",
		}, []string{"changed"}),

		HistorySize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Current number of history entries",
		}),

		HistoryEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evictions_total",
			Help:      "History entries evicted by the capacity bound",
		}),

		PersistQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persist_queue_depth",
			Help:      "Writes waiting for the durable backend",
		}),

		PersistWriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_write_duration_seconds",
			Help:      "Duration of durable writes by op",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		PersistenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Durable writes given up on by op and reason",
		}, []string{"op", "reason"}),

		ChangeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_events_total",
			Help:      "Change events sent to the event sink by result",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code",
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) RecordReceived(transport string) {
	m.ReadingsReceived.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordInvalid(transport string) {
	m.ReadingsInvalid.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordAccepted(changed, evicted bool, historyLen int) {
	m.ReadingsRecorded.WithLabelValues(strconv.FormatBool(changed)).Inc()
	if evicted {
		m.HistoryEvictions.Inc()
	}
	m.HistorySize.Set(float64(historyLen))
}

func (m *Metrics) SetQueueDepth(n int) {
	m.PersistQueueDepth.Set(float64(n))
}

func (m *Metrics) ObservePersistWrite(op string, seconds float64) {
	m.PersistWriteDuration.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) RecordPersistenceFailure(op, reason string) {
	m.PersistenceFailures.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) RecordChangeEvent(result string) {
	m.ChangeEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordHTTPRequest(method string, status int) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
