package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the UTC, second precision request timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// ArchivedRecord is the row kept by the local archive for one delivered
// payload. The indexed columns are lifted out of the encoded payload.
type ArchivedRecord struct {
	ID         string          `json:"id" bson:"_id"`
	ProjectID  string          `json:"project_id" bson:"project_id"`
	Timestamp  time.Time       `json:"timestamp" bson:"timestamp"`
	Method     string          `json:"method" bson:"method"`
	URL        string          `json:"url" bson:"url"`
	StatusCode int             `json:"status_code" bson:"status_code"`
	LoadTimeUs int64           `json:"load_time_us" bson:"load_time_us"`
	Payload    json.RawMessage `json:"payload" bson:"-"`
}

// NewArchivedRecord indexes an encoded payload under id. The payload is kept
// byte for byte.
func NewArchivedRecord(id string, payload []byte) (*ArchivedRecord, error) {
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload %s: %w", id, err)
	}

	rec := &ArchivedRecord{
		ID:        id,
		ProjectID: p.ProjectID,
		Method:    p.Data.Request.Method,
		URL:       p.Data.Request.URL,
		Payload:   json.RawMessage(payload),
	}
	ts, err := time.ParseInLocation(TimestampLayout, p.Data.Request.Timestamp, time.UTC)
	if err != nil {
		ts = time.Now().UTC().Truncate(time.Second)
	}
	rec.Timestamp = ts
	if p.Data.Response.Code != nil {
		rec.StatusCode = *p.Data.Response.Code
	}
	if p.Data.Response.LoadTime != nil {
		rec.LoadTimeUs = int64(*p.Data.Response.LoadTime)
	}
	return rec, nil
}
