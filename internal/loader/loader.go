// Package loader performs the one-time bulk load of historical traffic CSV
// exports into the store. It shares the consumer's upsert-by-key write path,
// so re-running a load is harmless.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/consumer"
	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
)

// Result summarizes one load: rows upserted and rows rejected by validation.
type Result struct {
	Loaded  int
	Skipped int
}

// Loader reads historical CSV rows and upserts them as batch-source records.
type Loader struct {
	store   consumer.Upserter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Loader writing through the given store.
func New(store consumer.Upserter, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{store: store, logger: logger, metrics: metrics}
}

// columnAliases maps the header names seen across historical exports onto
// RawObservation fields. The live feed and older dumps disagree on several
// names (speed vs current_speed, time vs last_updated).
var columnAliases = map[string]string{
	"segmentid":       "segmentid",
	"segment_id":      "segmentid",
	"street":          "street",
	"direction":       "direction",
	"from_street":     "from_street",
	"to_street":       "to_street",
	"length":          "length",
	"street_heading":  "street_heading",
	"comments":        "comments",
	"start_longitude": "start_longitude",
	"start_latitude":  "start_latitude",
	"end_longitude":   "end_longitude",
	"end_latitude":    "end_latitude",
	"speed":           "current_speed",
	"current_speed":   "current_speed",
	"bus_count":       "bus_count",
	"time":            "last_updated",
	"last_updated":    "last_updated",
}

// Load reads CSV rows from r and upserts each valid row with source=batch.
// Malformed rows are skipped and counted, never aborting the load. The
// error return covers unreadable input or store failures, not row
// validation.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read csv header: %w", err)
	}
	fields := mapHeader(header)
	if _, ok := fields["segmentid"]; !ok {
		return Result{}, errors.New("csv header has no segment id column")
	}

	var res Result
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A structurally broken line is a bad row, not a bad file.
			res.Skipped++
			l.metrics.BatchRowsSkipped.Inc()
			l.logger.Warn("skipping unreadable csv line", "error", err)
			continue
		}

		obs := rowToObservation(fields, row)
		// Historical rows must carry their own timestamp; unlike the stream
		// path there is no meaningful poll time to fall back on.
		rec, err := obs.Normalize(domain.SourceBatch, time.Time{})
		if err != nil {
			res.Skipped++
			l.metrics.BatchRowsSkipped.Inc()
			l.metrics.ValidationSkips.WithLabelValues("loader").Inc()
			l.logger.Debug("skipping invalid row", "segment_id", obs.SegmentID, "error", err)
			continue
		}

		if err := l.store.UpsertRecord(ctx, rec); err != nil {
			return res, fmt.Errorf("load row %s: %w", rec.SegmentID, err)
		}
		res.Loaded++
		l.metrics.BatchRowsLoaded.Inc()
	}

	l.logger.Info("batch load complete", "loaded", res.Loaded, "skipped", res.Skipped)
	return res, nil
}

// Validate dry-runs the loader's validation over r without touching the
// store, reporting what a real load would upsert and skip.
func (l *Loader) Validate(r io.Reader) (Result, error) {
	dry := &Loader{store: discardStore{}, logger: l.logger, metrics: l.metrics}
	return dry.Load(context.Background(), r)
}

type discardStore struct{}

func (discardStore) UpsertRecord(context.Context, domain.TrafficRecord) error { return nil }

func mapHeader(header []string) map[string]int {
	fields := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		if canonical, ok := columnAliases[name]; ok {
			fields[canonical] = i
		}
	}
	return fields
}

func rowToObservation(fields map[string]int, row []string) domain.RawObservation {
	get := func(name string) string {
		i, ok := fields[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}
	return domain.RawObservation{
		SegmentID:   get("segmentid"),
		Street:      get("street"),
		Direction:   get("direction"),
		FromStreet:  get("from_street"),
		ToStreet:    get("to_street"),
		Length:      get("length"),
		Heading:     get("street_heading"),
		Comments:    get("comments"),
		StartLon:    get("start_longitude"),
		StartLat:    get("start_latitude"),
		EndLon:      get("end_longitude"),
		EndLat:      get("end_latitude"),
		Speed:       get("current_speed"),
		BusCount:    get("bus_count"),
		LastUpdated: get("last_updated"),
	}
}
