package history

import "encoding/json"

// Reserved field names merged into payload maps by SessionRecord.Map and
// CronRecord.Map. Caller-supplied payload keys with these names are
// overwritten on output; producers should avoid them.
const (
	FieldTimestamp  = "_ts"
	FieldSessionKey = "_session_key"
	FieldJobID      = "_job_id"
	FieldRaw        = "raw"
)

// MetricSnapshot is the reserved metric name under which the collector
// stores one full serialized snapshot per cycle.
const MetricSnapshot = "snapshot"

// BucketPoint is one aggregated point of a metric time series: the bucket
// start timestamp and the arithmetic mean of the values that fell into it.
type BucketPoint struct {
	Bucket  float64 `json:"ts"`
	Average float64 `json:"value"`
}

// Payload carries a stored JSON document read back from the database.
// Recovered reports whether the stored text failed to parse; in that case
// Data holds only {"raw": <original text>} so a single corrupt row cannot
// abort a range query.
type Payload struct {
	Data      map[string]any `json:"data"`
	Recovered bool           `json:"recovered,omitempty"`
}

// decodePayload parses stored JSON, degrading to the raw-text fallback on
// malformed input.
func decodePayload(text string) Payload {
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil || data == nil {
		return Payload{
			Data:      map[string]any{FieldRaw: text},
			Recovered: true,
		}
	}
	return Payload{Data: data}
}

// SessionRecord is one observation of session-list state at a point in time.
type SessionRecord struct {
	Timestamp  float64 `json:"ts"`
	SessionKey string  `json:"session_key"`
	Payload    Payload `json:"payload"`
}

// Map returns the stored payload augmented with the reserved _ts and
// _session_key fields, the shape callers chart from.
func (r SessionRecord) Map() map[string]any {
	out := make(map[string]any, len(r.Payload.Data)+2)
	for k, v := range r.Payload.Data {
		out[k] = v
	}
	out[FieldTimestamp] = r.Timestamp
	out[FieldSessionKey] = r.SessionKey
	return out
}

// CronRecord is one observation of a scheduled job's run state.
type CronRecord struct {
	Timestamp float64 `json:"ts"`
	JobID     string  `json:"job_id"`
	Payload   Payload `json:"payload"`
}

// Map returns the stored payload augmented with the reserved _ts and
// _job_id fields.
func (r CronRecord) Map() map[string]any {
	out := make(map[string]any, len(r.Payload.Data)+2)
	for k, v := range r.Payload.Data {
		out[k] = v
	}
	out[FieldTimestamp] = r.Timestamp
	out[FieldJobID] = r.JobID
	return out
}

// StoreStats summarizes the metrics table and the database file.
type StoreStats struct {
	TotalPoints int64   `json:"total_points"`
	OldestTS    float64 `json:"oldest_ts"`
	NewestTS    float64 `json:"newest_ts"`
	SizeBytes   int64   `json:"db_size_bytes"`
}
