// Package proxy forwards requests to a single upstream.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/tuncerburak97/gozcu/internal/config"
)

// hopHeaders are connection scoped and never forwarded in either direction.
// Content-Length is recomputed from the forwarded body.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
}

type ProxyHandler struct {
	target    *url.URL
	transport http.RoundTripper
	config    *config.ProxyConfig
	logger    *zerolog.Logger
}

func NewProxyHandler(cfg *config.ProxyConfig, logger *zerolog.Logger) (*ProxyHandler, error) {
	target, err := url.Parse(strings.TrimRight(cfg.Target, "/"))
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy target %q must be an absolute URL", cfg.Target)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &ProxyHandler{
		target: target,
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          cfg.MaxIdleConns,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			TLSHandshakeTimeout:   cfg.TLSTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			ExpectContinueTimeout: cfg.ExpectContinueTimeout,
			MaxConnsPerHost:       cfg.MaxConnsPerHost,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Handle forwards the exchange upstream and copies the answer back. Transport
// failures surface as 502, timeouts as 504.
func (h *ProxyHandler) Handle(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	targetURL := h.target.String() + c.OriginalURL()
	req, err := http.NewRequestWithContext(ctx, c.Method(), targetURL, bytes.NewReader(c.Body()))
	if err != nil {
		h.logger.Error().Err(err).Str("target_url", targetURL).Msg("Failed to create target request")
		return fiber.NewError(fiber.StatusBadGateway, "invalid upstream request")
	}

	c.Request().Header.VisitAll(func(key, value []byte) {
		name := string(key)
		if _, hop := hopHeaders[http.CanonicalHeaderKey(name)]; hop || strings.EqualFold(name, fiber.HeaderHost) {
			return
		}
		req.Header.Add(name, string(value))
	})
	req.Header.Set(fiber.HeaderXForwardedFor, forwardedFor(c.Get(fiber.HeaderXForwardedFor), c.IP()))
	req.Header.Set(fiber.HeaderXForwardedHost, c.Hostname())
	req.Header.Set(fiber.HeaderXForwardedProto, c.Protocol())

	resp, err := h.transport.RoundTrip(req)
	if err != nil {
		h.logger.Error().Err(err).Str("target_url", targetURL).Msg("Failed to send request to target")
		if errors.Is(err, context.DeadlineExceeded) {
			return fiber.NewError(fiber.StatusGatewayTimeout, "upstream timed out")
		}
		return fiber.NewError(fiber.StatusBadGateway, "upstream unavailable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.Error().Err(err).Str("target_url", targetURL).Msg("Failed to read response body")
		return fiber.NewError(fiber.StatusBadGateway, "upstream response truncated")
	}

	for k, values := range resp.Header {
		if _, hop := hopHeaders[k]; hop {
			continue
		}
		for _, v := range values {
			c.Response().Header.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	return c.Send(body)
}

func forwardedFor(prior, clientIP string) string {
	if prior == "" {
		return clientIP
	}
	return prior + ", " + clientIP
}
