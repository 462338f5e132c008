// Package record assembles the telemetry document for a single exchange.
//
// A Record is created when a request arrives, receives the request body while
// Open, is Finalized once the handler has produced a response, and is then
// masked and handed off. Records are never shared between exchanges.
package record

import (
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/tuncerburak97/gozcu/internal/model"
	"github.com/tuncerburak97/gozcu/internal/redact"
)

const (
	SDKName    = "go"
	SDKVersion = "0.1.0"
)

var (
	ErrFinalized = errors.New("record already finalized")
	ErrNotOpen   = errors.New("record is not open")
)

type State int

const (
	StateOpen State = iota
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Source supplies the per-exchange values pulled in by Finalize.
// capture.Extractor satisfies it.
type Source interface {
	Protocol() string
	Timestamp() string
	ClientIP() string
	URL() string
	UserAgent() *string
	Method() string
	RequestHeaders() map[string]string
	ResponseHeaders() map[string]string
	StatusCode() int
	BodySize() int64
	ResponseBody() any
	Errors(err error) []model.ErrorInfo
}

type Record struct {
	ID      string
	payload model.Payload
	start   time.Time
	stop    time.Time
	state   State
	now     func() time.Time
}

type Option func(*Record)

// WithClock replaces time.Now. The clock is read exactly twice: once in New
// and once in Finalize.
func WithClock(now func() time.Time) Option {
	return func(r *Record) {
		r.now = now
	}
}

// New starts the clock and fills the static identity, language and server
// sections.
func New(apiKey, projectID string, opts ...Option) *Record {
	r := &Record{
		ID:  uuid.New().String(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.now()
	r.payload = model.Payload{
		APIKey:    apiKey,
		ProjectID: projectID,
		Version:   SDKVersion,
		SDK:       SDKName,
		Data: model.Data{
			Server: model.Server{
				Timezone: r.start.Format("MST"),
				OS:       hostOS(),
			},
			Language: model.Language{
				Name:    "go",
				Version: runtime.Version(),
			},
			Request: model.Request{
				Headers: map[string]string{},
			},
			Response: model.Response{
				Headers: map[string]string{},
			},
			Errors: []model.ErrorInfo{},
		},
	}
	return r
}

func hostOS() model.OS {
	family := "unix"
	switch runtime.GOOS {
	case "windows":
		family = "windows"
	case "js", "wasip1":
		family = "wasm"
	}
	return model.OS{
		Name:         family,
		Release:      runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
}

func (r *Record) State() State {
	return r.state
}

// AttachRequestBody stores the decoded request body. Only valid while Open.
func (r *Record) AttachRequestBody(body any) error {
	if r.state != StateOpen {
		return ErrNotOpen
	}
	r.payload.Data.Request.Body = body
	return nil
}

// Finalize pulls the remaining exchange data from src, stops the clock and
// closes the record. handlerErr is the error returned by the downstream
// handler, if any. A second call returns ErrFinalized and changes nothing.
func (r *Record) Finalize(src Source, handlerErr error) error {
	if r.state != StateOpen {
		return ErrFinalized
	}

	protocol := src.Protocol()
	code := src.StatusCode()
	size := src.BodySize()

	data := &r.payload.Data
	data.Server.Protocol = &protocol

	data.Request.Timestamp = src.Timestamp()
	data.Request.IP = src.ClientIP()
	data.Request.URL = src.URL()
	data.Request.UserAgent = src.UserAgent()
	data.Request.Method = src.Method()
	data.Request.Headers = src.RequestHeaders()

	data.Response.Headers = src.ResponseHeaders()
	data.Response.Code = &code
	data.Response.Size = &size
	data.Response.Body = src.ResponseBody()
	data.Errors = src.Errors(handlerErr)

	if data.Request.Headers == nil {
		data.Request.Headers = map[string]string{}
	}
	if data.Response.Headers == nil {
		data.Response.Headers = map[string]string{}
	}
	if data.Errors == nil {
		data.Errors = []model.ErrorInfo{}
	}

	r.stop = r.now()
	loadTime := model.NewLoadTime(r.Elapsed())
	data.Response.LoadTime = &loadTime

	r.state = StateFinalized
	return nil
}

// Elapsed is the time between New and Finalize, never negative. Before
// Finalize it is zero.
func (r *Record) Elapsed() time.Duration {
	if r.stop.IsZero() {
		return 0
	}
	d := r.stop.Sub(r.start)
	if d < 0 {
		return 0
	}
	return d
}

// Mask redacts both bodies and both header maps in place.
func (r *Record) Mask(p redact.Policy) {
	data := &r.payload.Data
	data.Request.Body = redact.Value(data.Request.Body, p)
	data.Response.Body = redact.Value(data.Response.Body, p)
	redact.Headers(data.Request.Headers, p)
	redact.Headers(data.Response.Headers, p)
}

// Payload exposes the document for serialization and body scripts.
func (r *Record) Payload() *model.Payload {
	return &r.payload
}
