package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuncerburak97/gozcu/internal/metrics"
	"github.com/tuncerburak97/gozcu/internal/record"
)

type received struct {
	method string
	apiKey string
	body   []byte
}

func newCollector(t *testing.T, status int, delay time.Duration) (*httptest.Server, chan received) {
	t.Helper()
	ch := make(chan received, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- received{method: r.Method, apiKey: r.Header.Get(HeaderAPIKey), body: body}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func finalized(t *testing.T) *record.Record {
	t.Helper()
	rec := record.New("api-key", "project-id")
	require.NoError(t, rec.AttachRequestBody(map[string]any{"name": "Al"}))
	return rec
}

type recordingSink struct {
	mu  sync.Mutex
	ids []string
	ok  bool
}

func (s *recordingSink) Enqueue(id string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return s.ok
}

func TestDeliver_FireAndForget(t *testing.T) {
	srv, ch := newCollector(t, http.StatusOK, 0)
	sink := &recordingSink{ok: true}
	d := New(Config{Endpoint: srv.URL}, nil, WithSink(sink))
	rec := finalized(t)

	require.NoError(t, d.Deliver(rec))

	select {
	case got := <-ch:
		assert.Equal(t, http.MethodPost, got.method)
		assert.Equal(t, "api-key", got.apiKey)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(got.body, &doc))
		assert.Equal(t, "project-id", doc["project_id"])
		assert.Equal(t, "Al", doc["data"].(map[string]any)["request"].(map[string]any)["body"].(map[string]any)["name"])
	case <-time.After(2 * time.Second):
		t.Fatal("collector never received the payload")
	}
	require.NoError(t, d.Wait(context.Background()))
	assert.Equal(t, []string{rec.ID}, sink.ids)
}

func TestDeliver_DoesNotBlockOnSlowCollector(t *testing.T) {
	srv, _ := newCollector(t, http.StatusOK, 500*time.Millisecond)
	d := New(Config{Endpoint: srv.URL}, nil)

	start := time.Now()
	require.NoError(t, d.Deliver(finalized(t)))
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	require.NoError(t, d.Wait(context.Background()))
}

func TestDeliver_FailuresAreSilent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsCollector("dispatch_test", "test", reg)
	t.Cleanup(m.Close)
	d := New(Config{Endpoint: srv.URL}, nil, WithMetrics(m))

	require.NoError(t, d.Deliver(finalized(t)))
	require.NoError(t, d.Wait(context.Background()))

	failures := m.DispatchCounter.With(prometheus.Labels{"app": "test", "mode": "async", "outcome": "error"})
	assert.Equal(t, 1.0, testutil.ToFloat64(failures))
}

func TestDeliver_TimeoutIsEnforced(t *testing.T) {
	srv, _ := newCollector(t, http.StatusOK, 300*time.Millisecond)
	d := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	status, _, err := d.post(context.Background(), "k", []byte(`{}`))

	assert.Zero(t, status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliver_DebugAwaitsCollector(t *testing.T) {
	srv, ch := newCollector(t, http.StatusAccepted, 100*time.Millisecond)
	d := New(Config{Endpoint: srv.URL, Debug: true}, nil)

	require.NoError(t, d.Deliver(finalized(t)))

	select {
	case got := <-ch:
		assert.Equal(t, "api-key", got.apiKey)
	default:
		t.Fatal("debug delivery returned before the collector was reached")
	}
}

func TestDeliver_DebugRejectedIsNotFatal(t *testing.T) {
	srv, _ := newCollector(t, http.StatusUnauthorized, 0)
	d := New(Config{Endpoint: srv.URL, Debug: true}, nil)

	assert.NotPanics(t, func() {
		assert.NoError(t, d.Deliver(finalized(t)))
	})
}

func TestDeliver_DebugTruncatedReplyIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		conn, buf, err := w.(http.Hijacker).Hijack()
		if !assert.NoError(t, err) {
			return
		}
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nok\"}")
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer srv.Close()

	d := New(Config{Endpoint: srv.URL, Debug: true}, nil)
	assert.NotPanics(t, func() {
		assert.NoError(t, d.Deliver(finalized(t)))
	})

	status, body, err := d.post(context.Background(), "api-key", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, body)
}

func TestDeliver_DebugTransportFailurePanics(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	d := New(Config{Endpoint: srv.URL, Debug: true}, nil)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrDelivery))
	}()
	_ = d.Deliver(finalized(t))
}

func TestNew_Defaults(t *testing.T) {
	d := New(Config{}, nil)

	assert.Equal(t, DefaultEndpoint, d.endpoint)
	assert.Equal(t, DefaultTimeout, d.timeout)
	assert.False(t, d.Debug())
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "success", outcomeOf(204, nil))
	assert.Equal(t, "rejected", outcomeOf(500, nil))
	assert.Equal(t, "error", outcomeOf(0, errors.New("x")))
}
