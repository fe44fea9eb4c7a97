package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Source marks which ingestion path wrote a record.
type Source string

const (
	SourceBatch  Source = "batch"
	SourceStream Source = "stream"
)

// TrafficRecord is one observation of a road segment at a point in time.
// (SegmentID, Timestamp) is the natural key; the store upserts on it, so
// republishing the same observation never creates a duplicate row.
type TrafficRecord struct {
	SegmentID string    `json:"segment_id"`
	Street    string    `json:"street"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
	Length    float64   `json:"length"`
	BusCount  int       `json:"bus_count"`
	Source    Source    `json:"source"`

	// Segment metadata carried through from the city feed. Not used by the
	// inference stages but persisted for dashboard queries.
	Direction  string  `json:"direction,omitempty"`
	FromStreet string  `json:"from_street,omitempty"`
	ToStreet   string  `json:"to_street,omitempty"`
	Heading    string  `json:"street_heading,omitempty"`
	Comments   string  `json:"comments,omitempty"`
	StartLon   float64 `json:"start_longitude,omitempty"`
	StartLat   float64 `json:"start_latitude,omitempty"`
	EndLon     float64 `json:"end_longitude,omitempty"`
	EndLat     float64 `json:"end_latitude,omitempty"`
}

// Key returns the record's natural key as a byte slice, used as the Kafka
// message key so per-segment ordering holds where the broker provides it.
func (r TrafficRecord) Key() []byte {
	return []byte(r.SegmentID)
}

// SpeedPoint is one (timestamp, speed) observation in a street's history.
type SpeedPoint struct {
	Timestamp time.Time
	Speed     float64
}

// SegmentScore is a scored segment as served to the dashboard: the latest
// observation plus the classifier's verdict. A score only exists once a
// session is ready, so a confidence of 0 always means "genuinely not
// congested with no margin", never "model unavailable".
type SegmentScore struct {
	SegmentID  string    `json:"segment_id"`
	Street     string    `json:"street"`
	Speed      float64   `json:"speed"`
	Congested  bool      `json:"congested"`
	Confidence float64   `json:"confidence"`
	ScoredAt   time.Time `json:"scored_at"`
}

// StreetForecast is a street's projected speed sequence together with how
// much history the model behind it was fitted on.
type StreetForecast struct {
	Street       string    `json:"street"`
	Horizon      int       `json:"horizon"`
	Values       []float64 `json:"forecast"`
	Observations int       `json:"observations"`
}

// RawMessage represents an unprocessed message from the traffic topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// MarshalRecord serializes a TrafficRecord for publication on the topic.
func MarshalRecord(rec TrafficRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal traffic record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord deserializes a topic payload into a TrafficRecord.
// A payload that parses but carries no segment ID is rejected, so malformed
// messages are caught before they reach the store.
func UnmarshalRecord(value []byte) (TrafficRecord, error) {
	var rec TrafficRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return TrafficRecord{}, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	if rec.SegmentID == "" {
		return TrafficRecord{}, &ValidationError{Field: "segment_id", Reason: "missing"}
	}
	if rec.Timestamp.IsZero() {
		return TrafficRecord{}, &ValidationError{Field: "timestamp", Reason: "missing"}
	}
	return rec, nil
}
