// Package capture reads request and response data out of a live Fiber
// exchange without taking it away from the handler or the client.
package capture

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/tuncerburak97/gozcu/internal/model"
)

const (
	// DefaultIP is reported when the client address cannot be determined.
	DefaultIP = "127.0.0.1"

	errorSource = "onError"
)

// Extractor snapshots one exchange. It holds the Fiber context only for the
// duration of the middleware call; every value it returns is a copy that is
// safe to keep after the context has been released.
type Extractor struct {
	c *fiber.Ctx
}

// NewExtractor wraps the context of the exchange in flight.
func NewExtractor(c *fiber.Ctx) *Extractor {
	return &Extractor{c: c}
}

// Protocol returns the upper-cased scheme with a "/x" suffix, e.g. "HTTPS/x".
func (e *Extractor) Protocol() string {
	return strings.ToUpper(e.c.Protocol()) + "/x"
}

// StatusCode is the status the response will be written with.
func (e *Extractor) StatusCode() int {
	return e.c.Response().StatusCode()
}

// BodySize is the response body length in bytes, or 0 when the body is a
// stream of unknown length.
func (e *Extractor) BodySize() int64 {
	resp := e.c.Response()
	if resp.IsBodyStream() {
		if n := resp.Header.ContentLength(); n > 0 {
			return int64(n)
		}
		return 0
	}
	return int64(len(resp.Body()))
}

// RequestHeaders returns the request headers keyed by the names the client
// sent. fasthttp normalizes names unless the app disables it, so the wire
// spelling is recovered from the raw header block.
func (e *Extractor) RequestHeaders() map[string]string {
	header := &e.c.Request().Header
	received := rawHeaderNames(header.RawHeaders())

	out := make(map[string]string)
	header.VisitAll(func(key, value []byte) {
		name := string(key)
		if raw, ok := received[strings.ToLower(name)]; ok {
			name = raw
		}
		out[name] = headerValue(value)
	})
	return out
}

// rawHeaderNames maps lower-cased header names to their spelling in raw.
// The first occurrence wins.
func rawHeaderNames(raw []byte) map[string]string {
	names := make(map[string]string)
	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		name := string(bytes.TrimSpace(line[:colon]))
		key := strings.ToLower(name)
		if _, seen := names[key]; !seen && name != "" {
			names[key] = name
		}
	}
	return names
}

// ResponseHeaders returns the response headers as the handler set them.
func (e *Extractor) ResponseHeaders() map[string]string {
	out := make(map[string]string)
	e.c.Response().Header.VisitAll(func(key, value []byte) {
		out[string(key)] = headerValue(value)
	})
	return out
}

// headerValue copies a raw header value. Values that are not valid UTF-8
// are reported as empty strings.
func headerValue(v []byte) string {
	if !utf8.Valid(v) {
		return ""
	}
	return string(v)
}

// Errors describes err, if any, as a single "onError" entry.
func (e *Extractor) Errors(err error) []model.ErrorInfo {
	return Errors(err)
}

// Errors builds the error list for a handler error. A nil error yields an
// empty, non-nil list.
func Errors(err error) []model.ErrorInfo {
	if err == nil {
		return []model.ErrorInfo{}
	}
	message := fmt.Sprintf("%#v", err)
	return []model.ErrorInfo{{
		Source:  errorSource,
		Message: message,
		Type:    ErrorType(message),
	}}
}

// Timestamp is the current UTC time in the record timestamp layout.
func (e *Extractor) Timestamp() string {
	return Timestamp(time.Now())
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// address Fiber resolved for the connection (which honors the configured
// proxy header). Forwarding headers are ignored when the app checks proxies
// and the peer is not trusted. Unspecified or missing addresses become
// DefaultIP.
func (e *Extractor) ClientIP() string {
	if e.c.IsProxyTrusted() {
		for _, ip := range e.c.IPs() {
			if ip = strings.TrimSpace(ip); usableIP(ip) {
				return utils.CopyString(ip)
			}
		}
		if ip := strings.TrimSpace(e.c.Get("X-Real-IP")); usableIP(ip) {
			return utils.CopyString(ip)
		}
	}
	if ip := e.c.IP(); usableIP(ip) {
		return utils.CopyString(ip)
	}
	return DefaultIP
}

func usableIP(ip string) bool {
	if ip == "" {
		return false
	}
	parsed := net.ParseIP(ip)
	return parsed != nil && !parsed.IsUnspecified()
}

// URL rebuilds the absolute request URL from scheme, host and request URI.
func (e *Extractor) URL() string {
	return e.c.BaseURL() + e.c.OriginalURL()
}

// UserAgent returns nil when the request carries no User-Agent header.
func (e *Extractor) UserAgent() *string {
	ua := e.c.Request().Header.UserAgent()
	if len(ua) == 0 {
		return nil
	}
	s := headerValue(ua)
	return &s
}

// Method returns a copy of the request method.
func (e *Extractor) Method() string {
	return utils.CopyString(e.c.Method())
}

// RequestBody captures and decodes the request body for JSON requests.
//
// A buffered body is only read, never consumed. A streamed body is drained
// and the drained bytes are put back as the request body, so the handler
// sees exactly what the client sent. A read failure leaves the request as
// is and returns the error with a nil body.
func (e *Extractor) RequestBody() (any, error) {
	req := e.c.Request()
	contentType := string(req.Header.ContentType())
	if !IsJSON(contentType) {
		return nil, nil
	}

	var raw []byte
	if req.IsBodyStream() {
		buffered, err := io.ReadAll(req.BodyStream())
		if err != nil {
			return nil, fmt.Errorf("read request body stream: %w", err)
		}
		req.SetBody(buffered)
		raw = buffered
	} else {
		raw = bytes.Clone(req.Body())
	}
	return RequestBody(raw, contentType), nil
}

// ResponseBody decodes the response body the handler produced. Streamed
// responses are left alone and reported as nil so they still reach the
// client incrementally.
func (e *Extractor) ResponseBody() any {
	resp := e.c.Response()
	if resp.IsBodyStream() {
		return nil
	}
	return ResponseBody(bytes.Clone(resp.Body()))
}
