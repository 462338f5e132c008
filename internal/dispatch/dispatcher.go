// Package dispatch ships finalized records to the remote collector.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/metrics"
	"github.com/tuncerburak97/gozcu/internal/record"
)

const (
	DefaultEndpoint = "https://rocknrolla.treblle.com"
	DefaultTimeout  = 2 * time.Second

	HeaderAPIKey = "x-api-key"

	modeAsync = "async"
	modeDebug = "debug"

	maxLoggedBody = 64 << 10
)

var ErrDelivery = errors.New("collector delivery failed")

type Config struct {
	Endpoint string
	Timeout  time.Duration
	Debug    bool
}

// Sink receives a copy of every serialized payload the dispatcher sends.
// Enqueue must not block. The archive service implements it.
type Sink interface {
	Enqueue(id string, payload []byte) bool
}

type Dispatcher struct {
	endpoint string
	timeout  time.Duration
	debug    bool
	client   *http.Client
	logger   *zerolog.Logger
	metrics  *metrics.MetricsCollector
	sink     Sink
	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithSink(sink Sink) Option {
	return func(d *Dispatcher) {
		d.sink = sink
	}
}

func New(cfg Config, logger *zerolog.Logger, opts ...Option) *Dispatcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	d := &Dispatcher{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		debug:    cfg.Debug,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: cfg.Timeout,
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Debug reports whether deliveries are awaited.
func (d *Dispatcher) Debug() bool {
	return d.debug
}

// Deliver serializes rec and sends it to the collector.
//
// In the default mode the send runs on its own goroutine holding only the
// encoded bytes, and its outcome is never reported to the caller. In debug
// mode the send is awaited and its result logged; a transport failure panics.
func (d *Dispatcher) Deliver(rec *record.Record) error {
	payload := rec.Payload()
	body, err := json.Marshal(payload)
	if err != nil {
		d.metrics.LogError("encode_payload", err)
		return fmt.Errorf("encode payload: %w", err)
	}
	apiKey := payload.APIKey

	if d.sink != nil && !d.sink.Enqueue(rec.ID, body) {
		d.logger.Debug().Str("trace_id", rec.ID).Msg("Archive queue full, record not archived")
	}

	if d.debug {
		d.deliverDebug(rec.ID, apiKey, body)
		return nil
	}

	d.inflight.Add(1)
	go func(traceID, apiKey string, body []byte) {
		defer d.inflight.Done()
		start := time.Now()
		status, _, err := d.post(context.Background(), apiKey, body)
		outcome := outcomeOf(status, err)
		d.metrics.ObserveDispatch(modeAsync, outcome, time.Since(start))
		d.logger.Debug().
			Err(err).
			Str("trace_id", traceID).
			Int("status_code", status).
			Str("outcome", outcome).
			Msg("Telemetry delivered")
	}(rec.ID, apiKey, body)
	return nil
}

func (d *Dispatcher) deliverDebug(traceID, apiKey string, body []byte) {
	d.logger.Debug().
		Str("trace_id", traceID).
		RawJSON("payload", body).
		Msg("Telemetry payload")

	start := time.Now()
	status, respBody, err := d.post(context.Background(), apiKey, body)
	d.metrics.ObserveDispatch(modeDebug, outcomeOf(status, err), time.Since(start))
	if err != nil {
		d.logger.Error().
			Err(err).
			Str("trace_id", traceID).
			Str("endpoint", d.endpoint).
			Msg("Collector unreachable")
		panic(fmt.Errorf("%w: %v", ErrDelivery, err))
	}

	event := d.logger.Debug()
	if status >= http.StatusBadRequest {
		event = d.logger.Warn()
	}
	event.
		Str("trace_id", traceID).
		Int("status_code", status).
		Str("body", string(respBody)).
		Msg("Collector response")
}

// post sends body with the configured timeout and returns the collector's
// status code and (truncated) response body. Only a failed send is an error.
func (d *Dispatcher) post(ctx context.Context, apiKey string, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(HeaderAPIKey, apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	// The collector has answered once a status arrived; a broken reply body
	// only costs the logged text.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		d.logger.Debug().Err(err).Int("status_code", resp.StatusCode).Msg("Failed to read collector response")
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, respBody, nil
}

func outcomeOf(status int, err error) string {
	switch {
	case err != nil:
		return "error"
	case status >= 200 && status < 300:
		return "success"
	default:
		return "rejected"
	}
}

// Wait blocks until background deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
