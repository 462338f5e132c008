package model

import (
	"strconv"
	"time"
)

// Payload is the document posted to the collector for one exchange.
type Payload struct {
	APIKey    string `json:"api_key"`
	ProjectID string `json:"project_id"`
	Version   string `json:"version"`
	SDK       string `json:"sdk"`
	Data      Data   `json:"data"`
}

type Data struct {
	Server   Server      `json:"server"`
	Language Language    `json:"language"`
	Request  Request     `json:"request"`
	Response Response    `json:"response"`
	Errors   []ErrorInfo `json:"errors"`
}

type Server struct {
	Timezone  string  `json:"timezone"`
	OS        OS      `json:"os"`
	Software  *string `json:"software"`
	Signature *string `json:"signature"`
	Protocol  *string `json:"protocol"`
}

type OS struct {
	Name         string `json:"name"`
	Release      string `json:"release"`
	Architecture string `json:"architecture"`
}

type Language struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Request struct {
	Timestamp string            `json:"timestamp"`
	IP        string            `json:"ip"`
	URL       string            `json:"url"`
	UserAgent *string           `json:"user_agent,omitempty"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      any               `json:"body"`
}

type Response struct {
	Headers  map[string]string `json:"headers"`
	Code     *int              `json:"code"`
	Size     *int64            `json:"size"`
	LoadTime *LoadTime         `json:"load_time"`
	Body     any               `json:"body"`
}

// ErrorInfo describes a framework level error attached to the response.
type ErrorInfo struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// LoadTime is an elapsed duration in whole microseconds. It is encoded as a
// JSON number of seconds with exactly five decimals, rounded half up.
type LoadTime int64

// NewLoadTime converts d to a LoadTime. Negative durations clamp to zero.
func NewLoadTime(d time.Duration) LoadTime {
	if d < 0 {
		return 0
	}
	return LoadTime(d.Microseconds())
}

// Duration returns the load time as a time.Duration.
func (l LoadTime) Duration() time.Duration {
	return time.Duration(l) * time.Microsecond
}

// String renders seconds with five decimals, e.g. 2000µs is "0.00200".
func (l LoadTime) String() string {
	us := int64(l)
	if us < 0 {
		us = 0
	}
	tens := (us + 5) / 10
	frac := strconv.FormatInt(tens%100000, 10)
	for len(frac) < 5 {
		frac = "0" + frac
	}
	return strconv.FormatInt(tens/100000, 10) + "." + frac
}

func (l LoadTime) MarshalJSON() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LoadTime) UnmarshalJSON(b []byte) error {
	seconds, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*l = LoadTime(seconds*1e6 + 0.5)
	return nil
}
