package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestCollector(t *testing.T) *MetricsCollector {
	t.Helper()
	m := NewMetricsCollector("gozcu_test", "test", prometheus.NewRegistry())
	t.Cleanup(m.Close)
	return m
}

func TestObserveExchange_FlushesBatch(t *testing.T) {
	m := newTestCollector(t)

	m.ObserveExchange("GET", "200", 20*time.Millisecond, 128)
	m.ObserveExchange("GET", "200", 30*time.Millisecond, 256)

	counter := m.ExchangeCounter.With(prometheus.Labels{"app": "test", "method": "GET", "status": "200"})
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(counter) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCounters(t *testing.T) {
	m := newTestCollector(t)

	m.IncSkipped()
	m.IncRecordsCreated()
	m.IncRecordsCreated()
	m.IncCaptureError("request_body")
	m.ObserveDispatch("async", "success", time.Millisecond)
	m.LogError("archive", errors.New("down"))
	m.LogError("archive", nil)
	m.ObserveBatchSave("postgres", time.Millisecond, 5)
	m.ObserveQueueSize("archive", 3)
	m.IncActiveExchanges()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedCounter.With(prometheus.Labels{"app": "test"})))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsCreated.With(prometheus.Labels{"app": "test"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureErrors.With(prometheus.Labels{"app": "test", "stage": "request_body"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchCounter.With(prometheus.Labels{"app": "test", "mode": "async", "outcome": "success"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorCounter.With(prometheus.Labels{"app": "test", "type": "archive"})))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ArchivedRecords.With(prometheus.Labels{"app": "test", "backend": "postgres"})))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueSize.With(prometheus.Labels{"app": "test", "queue": "archive"})))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveExchanges))

	m.DecActiveExchanges()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveExchanges))
}

func TestNilCollector(t *testing.T) {
	var m *MetricsCollector

	assert.NotPanics(t, func() {
		m.ObserveExchange("GET", "200", time.Millisecond, 1)
		m.IncSkipped()
		m.IncRecordsCreated()
		m.IncCaptureError("x")
		m.ObserveDispatch("debug", "failure", time.Millisecond)
		m.LogError("x", errors.New("y"))
		m.ObserveBatchSave("redis", time.Millisecond, 1)
		m.ObserveQueueSize("q", 1)
		m.IncActiveExchanges()
		m.DecActiveExchanges()
		m.Close()
	})
}
