// Package domain models road-segment traffic observations.
//
// # Data Source
//
// Live observations come from the City of Chicago current traffic congestion
// estimates feed, which publishes a snapshot of per-segment speeds on a short
// cadence. Historical observations come from CSV exports of the same data
// with an added bus_count column. Both arrive as loosely-typed string fields
// and are converted to a strict [TrafficRecord] by [RawObservation.Normalize]
// at the ingestion boundary; nothing downstream handles raw feed shapes.
//
// # Feed Conventions
//
// Speed:
//
//	Miles per hour as a decimal. The feed reports -1 when a segment had no
//	probe data in the current cycle; those observations carry no information
//	and are rejected during normalization.
//
// Timestamps:
//
//	last_updated is one of several layouts depending on the export path
//	(RFC 3339, "2006-01-02T15:04:05.000", "2006-01-02 15:04:05"). When the
//	field is missing or unparseable, the poll time is substituted so a
//	snapshot row is never silently dated to the zero time.
//
// # Natural Key
//
// (segment_id, timestamp) identifies an observation. The store's sole write
// path upserts on that pair, which makes redelivery from the topic and
// re-runs of the batch loader idempotent: replaying a message converges on
// one row holding the latest applied values.
package domain
