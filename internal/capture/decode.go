package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tuncerburak97/gozcu/internal/model"
)

const (
	jsonContentType = "application/json"

	requestAsString   = "request_as_a_string"
	requestAsRawBytes = "request_as_raw_bytes"
)

// IsJSON reports whether a request content type allows body capture. Only the
// bare "application/json" media type qualifies; parameters such as charset
// disable capture so multipart and form payloads are never touched.
func IsJSON(contentType string) bool {
	return strings.EqualFold(contentType, jsonContentType)
}

// RequestBody decodes a captured request body. Non JSON content types and
// empty bodies yield nil. Bodies that fail to parse are wrapped so the
// collector still receives them.
func RequestBody(raw []byte, contentType string) any {
	if !IsJSON(contentType) || len(raw) == 0 {
		return nil
	}
	if v, err := decodeJSON(raw); err == nil {
		return v
	}
	if utf8.Valid(raw) {
		return map[string]any{requestAsString: string(raw)}
	}
	return map[string]any{requestAsRawBytes: fmt.Sprintf("%q", raw)}
}

// ResponseBody decodes a captured response body regardless of content type.
// Invalid JSON falls back to the text itself, or to a quoted byte
// representation when the bytes are not valid UTF-8.
func ResponseBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if v, err := decodeJSON(raw); err == nil {
		return v
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return fmt.Sprintf("%q", raw)
}

// decodeJSON parses exactly one JSON value. Numbers are kept as json.Number
// so large integers survive the round trip to the collector.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw[dec.InputOffset():])) > 0 {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

// Timestamp formats t in UTC as "YYYY-MM-DD HH:MM:SS".
func Timestamp(t time.Time) string {
	return t.UTC().Format(model.TimestampLayout)
}

// ErrorType extracts the head token of an error's debug text: everything up
// to the first "(" or "{", trimmed of spaces and a leading "&".
func ErrorType(message string) string {
	head := message
	if i := strings.IndexAny(head, "({"); i >= 0 {
		head = head[:i]
	}
	return strings.TrimPrefix(strings.TrimSpace(head), "&")
}
