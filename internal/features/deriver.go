// Package features derives model inputs from stored traffic records.
// Vectors are computed on demand from a store snapshot and never persisted,
// so they cannot go stale; the same snapshot always derives the same
// vectors.
package features

import (
	"sort"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
)

// Vector is the feature set the congestion classifier consumes.
type Vector struct {
	Length          float64
	BusCount        float64
	RollingAvgSpeed float64
}

// Labeled pairs a vector with its congestion label for training.
type Labeled struct {
	Vector    Vector
	Congested bool
}

// Deriver computes feature vectors and congestion labels from records.
type Deriver struct {
	threshold float64 // speed below this labels an observation congested
	window    int     // rolling average span, in observations
}

// NewDeriver creates a deriver with the given congestion speed threshold and
// rolling-average window. A window below 1 is treated as 1.
func NewDeriver(threshold float64, window int) *Deriver {
	if window < 1 {
		window = 1
	}
	return &Deriver{threshold: threshold, window: window}
}

// TrainingSet derives one labeled vector per observation. Records are
// grouped by segment and ordered chronologically before the rolling average
// is computed, so output is deterministic for a given snapshot regardless of
// input order. The rolling average covers up to window observations ending
// at the current one; a segment's first observation falls back to its own
// speed.
func (d *Deriver) TrainingSet(records []domain.TrafficRecord) []Labeled {
	grouped := groupBySegment(records)

	segments := make([]string, 0, len(grouped))
	for id := range grouped {
		segments = append(segments, id)
	}
	sort.Strings(segments)

	var out []Labeled
	for _, id := range segments {
		obs := grouped[id]
		for i, rec := range obs {
			out = append(out, Labeled{
				Vector: Vector{
					Length:          rec.Length,
					BusCount:        float64(rec.BusCount),
					RollingAvgSpeed: rollingAvg(obs, i, d.window),
				},
				Congested: d.Label(rec.Speed),
			})
		}
	}
	return out
}

// LatestVectors derives one vector per segment from its newest observation,
// with the rolling average taken over the trailing window of that segment's
// history. This is the scoring input.
func (d *Deriver) LatestVectors(records []domain.TrafficRecord) map[string]Vector {
	grouped := groupBySegment(records)

	out := make(map[string]Vector, len(grouped))
	for id, obs := range grouped {
		last := len(obs) - 1
		out[id] = Vector{
			Length:          obs[last].Length,
			BusCount:        float64(obs[last].BusCount),
			RollingAvgSpeed: rollingAvg(obs, last, d.window),
		}
	}
	return out
}

// Label reports whether a speed counts as congested under the configured
// threshold.
func (d *Deriver) Label(speed float64) bool {
	return speed < d.threshold
}

// groupBySegment buckets records by segment and sorts each bucket
// chronologically, breaking timestamp ties by speed for determinism.
func groupBySegment(records []domain.TrafficRecord) map[string][]domain.TrafficRecord {
	grouped := make(map[string][]domain.TrafficRecord)
	for _, rec := range records {
		grouped[rec.SegmentID] = append(grouped[rec.SegmentID], rec)
	}
	for _, obs := range grouped {
		sort.Slice(obs, func(i, j int) bool {
			if !obs[i].Timestamp.Equal(obs[j].Timestamp) {
				return obs[i].Timestamp.Before(obs[j].Timestamp)
			}
			return obs[i].Speed < obs[j].Speed
		})
	}
	return grouped
}

// rollingAvg averages the speeds of up to window observations ending at
// index i. With a single observation the average is that observation's own
// speed.
func rollingAvg(obs []domain.TrafficRecord, i, window int) float64 {
	start := i - window + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, rec := range obs[start : i+1] {
		sum += rec.Speed
	}
	return sum / float64(i+1-start)
}
