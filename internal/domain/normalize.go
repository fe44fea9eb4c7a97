package domain

import (
	"strconv"
	"strings"
	"time"
)

// RawObservation is the loosely-typed segment record as it arrives from the
// city feed or a historical CSV export. All fields are strings; Normalize is
// the single place where they become a strict TrafficRecord, so nothing
// loosely-typed travels past the ingestion boundary.
type RawObservation struct {
	SegmentID   string `json:"segmentid"`
	Street      string `json:"street"`
	Direction   string `json:"direction"`
	FromStreet  string `json:"from_street"`
	ToStreet    string `json:"to_street"`
	Length      string `json:"length"`
	Heading     string `json:"street_heading"`
	Comments    string `json:"comments"`
	StartLon    string `json:"start_longitude"`
	StartLat    string `json:"start_latitude"`
	EndLon      string `json:"end_longitude"`
	EndLat      string `json:"end_latitude"`
	Speed       string `json:"current_speed"`
	BusCount    string `json:"bus_count"`
	LastUpdated string `json:"last_updated"`
}

// lastUpdatedLayouts covers the timestamp formats the city feed has been
// observed to emit.
var lastUpdatedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize validates a raw observation and converts it into a TrafficRecord.
//
// Rules:
//   - segment_id is required.
//   - current_speed must parse; the feed's -1 sentinel means "no reading"
//     and the observation is rejected, matching how the dashboard discards
//     those rows.
//   - length must parse and be positive.
//   - bus_count defaults to 0 when absent; negative counts are rejected.
//   - last_updated is parsed against known layouts; when missing or
//     unparseable the fallback time is used, and a zero fallback rejects
//     the observation.
//
// All rejections return a *ValidationError so ingestion loops can skip and
// count them without stopping.
func (r RawObservation) Normalize(src Source, fallback time.Time) (TrafficRecord, error) {
	segmentID := strings.TrimSpace(r.SegmentID)
	if segmentID == "" {
		return TrafficRecord{}, &ValidationError{Field: "segmentid", Reason: "missing"}
	}

	speed, err := parseRequiredFloat(r.Speed)
	if err != nil {
		return TrafficRecord{}, &ValidationError{Field: "current_speed", Reason: err.Error()}
	}
	if speed < 0 {
		// -1 is the feed's sentinel for "no reading this cycle".
		return TrafficRecord{}, &ValidationError{Field: "current_speed", Reason: "no reading"}
	}

	length, err := parseRequiredFloat(r.Length)
	if err != nil {
		return TrafficRecord{}, &ValidationError{Field: "length", Reason: err.Error()}
	}
	if length <= 0 {
		return TrafficRecord{}, &ValidationError{Field: "length", Reason: "must be positive"}
	}

	busCount := 0
	if s := strings.TrimSpace(r.BusCount); s != "" {
		busCount, err = strconv.Atoi(s)
		if err != nil {
			return TrafficRecord{}, &ValidationError{Field: "bus_count", Reason: err.Error()}
		}
		if busCount < 0 {
			return TrafficRecord{}, &ValidationError{Field: "bus_count", Reason: "must be non-negative"}
		}
	}

	ts := parseLastUpdated(r.LastUpdated, fallback)
	if ts.IsZero() {
		return TrafficRecord{}, &ValidationError{Field: "last_updated", Reason: "missing and no fallback time"}
	}

	return TrafficRecord{
		SegmentID:  segmentID,
		Street:     strings.TrimSpace(r.Street),
		Timestamp:  ts.UTC(),
		Speed:      speed,
		Length:     length,
		BusCount:   busCount,
		Source:     src,
		Direction:  strings.TrimSpace(r.Direction),
		FromStreet: strings.TrimSpace(r.FromStreet),
		ToStreet:   strings.TrimSpace(r.ToStreet),
		Heading:    strings.TrimSpace(r.Heading),
		Comments:   strings.TrimSpace(r.Comments),
		StartLon:   parseFloatOrZero(r.StartLon),
		StartLat:   parseFloatOrZero(r.StartLat),
		EndLon:     parseFloatOrZero(r.EndLon),
		EndLat:     parseFloatOrZero(r.EndLat),
	}, nil
}

func parseRequiredFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errMissing
	}
	return strconv.ParseFloat(s, 64)
}

var errMissing = &ValidationError{Field: "value", Reason: "missing"}

// parseFloatOrZero parses a string as float64, returning 0 on failure.
// Used only for optional coordinate metadata.
func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseLastUpdated(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range lastUpdatedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
