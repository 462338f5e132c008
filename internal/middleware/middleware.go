// Package middleware wires capture, masking and delivery into a Fiber app.
package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/capture"
	"github.com/tuncerburak97/gozcu/internal/metrics"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/record"
	"github.com/tuncerburak97/gozcu/internal/redact"
	"github.com/tuncerburak97/gozcu/internal/routes"
)

// Deliverer hands a masked record to the collector. dispatch.Dispatcher
// implements it.
type Deliverer interface {
	Deliver(rec *record.Record) error
}

// BodyScripts may rewrite captured bodies before masking.
// transform.Engine implements it.
type BodyScripts interface {
	Apply(path string, p *model.Payload) error
}

type Config struct {
	APIKey        string
	ProjectID     string
	MaskingFields []string
	IgnoredRoutes []string

	Deliverer Deliverer
	Scripts   BodyScripts
	Logger    *zerolog.Logger
	Metrics   *metrics.MetricsCollector

	// RecordOptions are passed to every record.New call.
	RecordOptions []record.Option
}

// settings is the immutable per-instance state shared by every exchange.
type settings struct {
	apiKey    string
	projectID string
	policy    redact.Policy
	ignored   *routes.Matcher
	deliverer Deliverer
	scripts   BodyScripts
	logger    *zerolog.Logger
	metrics   *metrics.MetricsCollector
	recOpts   []record.Option
}

// New builds the capture middleware. It fails when the identity or the
// deliverer is missing or an ignored route is not a valid pattern.
func New(cfg Config) (fiber.Handler, error) {
	if cfg.APIKey == "" || cfg.ProjectID == "" {
		return nil, errors.New("api key and project id are required")
	}
	if cfg.Deliverer == nil {
		return nil, errors.New("a deliverer is required")
	}
	ignored, err := routes.NewMatcher(cfg.IgnoredRoutes)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &settings{
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		policy:    redact.NewPolicy(cfg.MaskingFields...),
		ignored:   ignored,
		deliverer: cfg.Deliverer,
		scripts:   cfg.Scripts,
		logger:    logger,
		metrics:   cfg.Metrics,
		recOpts:   append([]record.Option(nil), cfg.RecordOptions...),
	}
	return s.handle, nil
}

func (s *settings) handle(c *fiber.Ctx) error {
	if s.ignored.Len() > 0 && s.ignored.Match(c.Path()) {
		s.metrics.IncSkipped()
		return c.Next()
	}

	s.metrics.IncActiveExchanges()
	defer s.metrics.DecActiveExchanges()

	rec := record.New(s.apiKey, s.projectID, s.recOpts...)
	s.metrics.IncRecordsCreated()
	extractor := capture.NewExtractor(c)

	body, err := extractor.RequestBody()
	if err != nil {
		s.metrics.IncCaptureError("request_body")
		s.logger.Warn().Err(err).Str("trace_id", rec.ID).Msg("Failed to capture request body")
	}
	_ = rec.AttachRequestBody(body)

	chainErr := c.Next()
	if chainErr != nil {
		// Resolve the error now so the record sees the status the client gets.
		if err := c.App().ErrorHandler(c, chainErr); err != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	if err := rec.Finalize(extractor, chainErr); err != nil {
		s.logger.Error().Err(err).Str("trace_id", rec.ID).Msg("Failed to finalize record")
		return nil
	}

	if s.scripts != nil {
		path := utils.CopyString(c.Path())
		if err := s.scripts.Apply(path, rec.Payload()); err != nil {
			s.metrics.IncCaptureError("script")
			s.logger.Warn().Err(err).Str("trace_id", rec.ID).Str("path", path).Msg("Body script failed")
		}
	}

	rec.Mask(s.policy)

	data := rec.Payload().Data
	s.metrics.ObserveExchange(data.Request.Method, strconv.Itoa(*data.Response.Code), rec.Elapsed(), *data.Response.Size)
	s.logger.Debug().
		Str("trace_id", rec.ID).
		Str("method", data.Request.Method).
		Str("url", data.Request.URL).
		Int("status_code", *data.Response.Code).
		Dur("load_time", rec.Elapsed().Round(time.Microsecond)).
		Msg("Exchange captured")

	if err := s.deliverer.Deliver(rec); err != nil {
		s.logger.Warn().Err(err).Str("trace_id", rec.ID).Msg("Failed to deliver record")
	}
	return nil
}
