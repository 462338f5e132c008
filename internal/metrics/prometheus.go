package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	defaultCollector *MetricsCollector
	once             sync.Once
)

// GetMetricsCollector returns the process wide collector registered with the
// default prometheus registry.
func GetMetricsCollector(namespace, appName string) *MetricsCollector {
	once.Do(func() {
		defaultCollector = NewMetricsCollector(namespace, appName, prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

// MetricsCollector instruments the capture pipeline. All methods are safe to
// call on a nil collector, which records nothing.
type MetricsCollector struct {
	AppName          string
	ExchangeDuration *prometheus.HistogramVec
	ExchangeCounter  *prometheus.CounterVec
	ResponseSize     *prometheus.HistogramVec
	SkippedCounter   *prometheus.CounterVec
	RecordsCreated   *prometheus.CounterVec
	CaptureErrors    *prometheus.CounterVec
	DispatchCounter  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	ErrorCounter     *prometheus.CounterVec
	ArchiveDuration  *prometheus.HistogramVec
	ArchivedRecords  *prometheus.CounterVec
	ActiveExchanges  prometheus.Gauge
	QueueSize        *prometheus.GaugeVec
	bufferChan       chan metricEvent
	done             chan struct{}
	closeOnce        sync.Once
}

type metricEvent struct {
	labels   prometheus.Labels
	duration time.Duration
	size     int64
}

func NewMetricsCollector(namespace, appName string, reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)
	m := &MetricsCollector{
		AppName: appName,
		ExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Handler load time of captured exchanges in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"app", "method", "status"},
		),

		ExchangeCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_total",
				Help:      "Total number of captured exchanges",
			},
			[]string{"app", "method", "status"},
		),

		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Response size of captured exchanges in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"app", "method", "status"},
		),

		SkippedCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skipped_exchanges_total",
				Help:      "Exchanges that matched an ignored route",
			},
			[]string{"app"},
		),

		RecordsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_created_total",
				Help:      "Exchange records allocated",
			},
			[]string{"app"},
		),

		CaptureErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_errors_total",
				Help:      "Failures while capturing exchange data",
			},
			[]string{"app", "stage"},
		),

		DispatchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Collector deliveries by mode and outcome",
			},
			[]string{"app", "mode", "outcome"},
		),

		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Collector delivery latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"app", "mode"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of internal errors",
			},
			[]string{"app", "type"},
		),

		ArchiveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_batch_duration_seconds",
				Help:      "Archive batch save latency in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"app", "backend"},
		),

		ArchivedRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archived_records_total",
				Help:      "Records handed to the archive backend",
			},
			[]string{"app", "backend"},
		),

		ActiveExchanges: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_exchanges",
				Help:      "Number of exchanges currently being captured",
				ConstLabels: prometheus.Labels{
					"app": appName,
				},
			},
		),
		bufferChan: make(chan metricEvent, 100),
		done:       make(chan struct{}),
		QueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_size",
				Help:      "Current size of the queue",
			},
			[]string{"app", "queue"},
		),
	}

	m.startCollector()
	return m
}

func (m *MetricsCollector) startCollector() {
	go func() {
		batch := make([]metricEvent, 0, 100)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case event := <-m.bufferChan:
				batch = append(batch, event)
				if len(batch) >= 100 {
					m.processBatch(batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				if len(batch) > 0 {
					m.processBatch(batch)
					batch = batch[:0]
				}
			case <-m.done:
				m.processBatch(batch)
				return
			}
		}
	}()
}

func (m *MetricsCollector) processBatch(batch []metricEvent) {
	for _, event := range batch {
		m.observe(event)
	}
}

func (m *MetricsCollector) observe(event metricEvent) {
	m.ExchangeCounter.With(event.labels).Inc()
	m.ExchangeDuration.With(event.labels).Observe(event.duration.Seconds())
	m.ResponseSize.With(event.labels).Observe(float64(event.size))
}

// ObserveExchange records a finalized exchange. Events are batched by a
// background goroutine; when the buffer is full the event is applied inline
// so the caller never blocks.
func (m *MetricsCollector) ObserveExchange(method, status string, duration time.Duration, size int64) {
	if m == nil {
		return
	}
	event := metricEvent{
		labels: prometheus.Labels{
			"app":    m.AppName,
			"method": method,
			"status": status,
		},
		duration: duration,
		size:     size,
	}
	select {
	case m.bufferChan <- event:
	default:
		m.observe(event)
	}
}

func (m *MetricsCollector) IncActiveExchanges() {
	if m == nil {
		return
	}
	m.ActiveExchanges.Inc()
}

func (m *MetricsCollector) DecActiveExchanges() {
	if m == nil {
		return
	}
	m.ActiveExchanges.Dec()
}

func (m *MetricsCollector) IncSkipped() {
	if m == nil {
		return
	}
	m.SkippedCounter.With(prometheus.Labels{"app": m.AppName}).Inc()
}

func (m *MetricsCollector) IncRecordsCreated() {
	if m == nil {
		return
	}
	m.RecordsCreated.With(prometheus.Labels{"app": m.AppName}).Inc()
}

func (m *MetricsCollector) IncCaptureError(stage string) {
	if m == nil {
		return
	}
	m.CaptureErrors.With(prometheus.Labels{"app": m.AppName, "stage": stage}).Inc()
}

// ObserveDispatch records one collector delivery attempt.
func (m *MetricsCollector) ObserveDispatch(mode, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchCounter.With(prometheus.Labels{
		"app":     m.AppName,
		"mode":    mode,
		"outcome": outcome,
	}).Inc()
	m.DispatchDuration.With(prometheus.Labels{
		"app":  m.AppName,
		"mode": mode,
	}).Observe(duration.Seconds())
}

func (m *MetricsCollector) LogError(errorType string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ErrorCounter.With(prometheus.Labels{
		"app":  m.AppName,
		"type": errorType,
	}).Inc()
}

func (m *MetricsCollector) ObserveBatchSave(backend string, duration time.Duration, batchSize int) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"app":     m.AppName,
		"backend": backend,
	}
	m.ArchiveDuration.With(labels).Observe(duration.Seconds())
	m.ArchivedRecords.With(labels).Add(float64(batchSize))
}

func (m *MetricsCollector) ObserveQueueSize(queue string, size float64) {
	if m == nil {
		return
	}
	m.QueueSize.With(prometheus.Labels{
		"app":   m.AppName,
		"queue": queue,
	}).Set(size)
}

// Close flushes pending exchange events and stops the batching goroutine.
func (m *MetricsCollector) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		close(m.done)
	})
}
