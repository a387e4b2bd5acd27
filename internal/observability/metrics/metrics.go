package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "ttms_"

	resultSuccess = "success"
	resultError   = "error"
	resultInvalid = "invalid"
)

var (
	registerOnce sync.Once

	feedTickTotal   *prometheus.CounterVec
	feedTickLatency *prometheus.HistogramVec

	alertEventsTotal *prometheus.CounterVec

	allocationTotal   *prometheus.CounterVec
	allocationLatency *prometheus.HistogramVec

	persistenceErrors *prometheus.CounterVec

	busPublishTotal *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers the engine metrics and, when provided, the gauge sources.
func Init(gauges Gauges, logger *log.Logger) {
	registerOnce.Do(func() {
		feedTickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_ticks_total",
				Help: "Total feed refresh ticks by result",
			},
			[]string{"result"},
		)
		feedTickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "feed_tick_latency_seconds",
				Help:    "Feed refresh latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)

		allocationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "allocations_total",
				Help: "Total allocation operations by kind and result",
			},
			[]string{"kind", "result"},
		)
		allocationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "allocation_latency_seconds",
				Help:    "Allocation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		persistenceErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "persistence_errors_total",
				Help: "Total storage backend failures by operation",
			},
			[]string{"op"},
		)

		busPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bus_publish_total",
				Help: "Total change notifications by topic and result",
			},
			[]string{"topic", "result"},
		)

		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total outbound alert notifications by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			feedTickTotal,
			feedTickLatency,
			alertEventsTotal,
			allocationTotal,
			allocationLatency,
			persistenceErrors,
			busPublishTotal,
			notificationsTotal,
			exportTotal,
			exportLatency,
		)

		registerGauges(gauges, logger)
	})
}

// ObserveFeedTick records a feed refresh.
func ObserveFeedTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if feedTickTotal != nil {
		feedTickTotal.WithLabelValues(result).Inc()
	}
	if feedTickLatency != nil {
		feedTickLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveAllocation records an allocate or revert call.
func ObserveAllocation(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if allocationTotal != nil {
		allocationTotal.WithLabelValues(kind, result).Inc()
	}
	if allocationLatency != nil {
		allocationLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncPersistenceError counts a storage backend failure.
func IncPersistenceError(op string) {
	if op == "" {
		op = "unknown"
	}
	if persistenceErrors != nil {
		persistenceErrors.WithLabelValues(op).Inc()
	}
}

// IncBusPublish counts a change notification.
func IncBusPublish(topic, result string) {
	if topic == "" {
		topic = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if busPublishTotal != nil {
		busPublishTotal.WithLabelValues(topic, result).Inc()
	}
}

// IncNotification counts an outbound notification as sent, error or dropped.
func IncNotification(result string) {
	if result == "" {
		result = resultSuccess
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records report export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultInvalid = resultInvalid
	ResultDropped = "dropped"
)
