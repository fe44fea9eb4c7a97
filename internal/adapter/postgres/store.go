package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relational source of truth for traffic records. Upsert on the
// (segment_id, ts) natural key is the only write path, shared by the batch
// loader and the stream consumer, so concurrent writers converge instead of
// duplicating rows.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects a pgx pool and verifies connectivity.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, &domain.FatalConfigError{Setting: "DATABASE_URL", Reason: err.Error()}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &domain.FatalConfigError{Setting: "DATABASE_URL", Reason: fmt.Sprintf("ping failed: %v", err)}
	}
	return &Store{pool: pool, logger: logger}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS traffic_records (
	segment_id      TEXT             NOT NULL,
	ts              TIMESTAMPTZ      NOT NULL,
	street          TEXT             NOT NULL DEFAULT '',
	speed           DOUBLE PRECISION NOT NULL,
	length          DOUBLE PRECISION NOT NULL,
	bus_count       INTEGER          NOT NULL DEFAULT 0,
	source          TEXT             NOT NULL,
	direction       TEXT             NOT NULL DEFAULT '',
	from_street     TEXT             NOT NULL DEFAULT '',
	to_street       TEXT             NOT NULL DEFAULT '',
	street_heading  TEXT             NOT NULL DEFAULT '',
	comments        TEXT             NOT NULL DEFAULT '',
	start_longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	start_latitude  DOUBLE PRECISION NOT NULL DEFAULT 0,
	end_longitude   DOUBLE PRECISION NOT NULL DEFAULT 0,
	end_latitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (segment_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_traffic_records_street_ts ON traffic_records (street, ts);
`

// EnsureSchema creates the traffic_records table and indexes if absent.
// Invoked once at startup by the surrounding process, never from write paths.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.logger.Info("traffic_records schema ensured")
	return nil
}

const upsertSQL = `
INSERT INTO traffic_records (
	segment_id, ts, street, speed, length, bus_count, source,
	direction, from_street, to_street, street_heading, comments,
	start_longitude, start_latitude, end_longitude, end_latitude
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (segment_id, ts) DO UPDATE SET
	street          = EXCLUDED.street,
	speed           = EXCLUDED.speed,
	length          = EXCLUDED.length,
	bus_count       = EXCLUDED.bus_count,
	source          = EXCLUDED.source,
	direction       = EXCLUDED.direction,
	from_street     = EXCLUDED.from_street,
	to_street       = EXCLUDED.to_street,
	street_heading  = EXCLUDED.street_heading,
	comments        = EXCLUDED.comments,
	start_longitude = EXCLUDED.start_longitude,
	start_latitude  = EXCLUDED.start_latitude,
	end_longitude   = EXCLUDED.end_longitude,
	end_latitude    = EXCLUDED.end_latitude
`

// UpsertRecord inserts or updates the row for the record's natural key.
// Applying the same record twice leaves exactly one row holding the most
// recently applied values, which is what makes topic redelivery safe.
func (s *Store) UpsertRecord(ctx context.Context, rec domain.TrafficRecord) error {
	_, err := s.pool.Exec(ctx, upsertSQL,
		rec.SegmentID, rec.Timestamp, rec.Street, rec.Speed, rec.Length, rec.BusCount, string(rec.Source),
		rec.Direction, rec.FromStreet, rec.ToStreet, rec.Heading, rec.Comments,
		rec.StartLon, rec.StartLat, rec.EndLon, rec.EndLat,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s@%s: %w", rec.SegmentID, rec.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

const selectColumns = `
	segment_id, ts, street, speed, length, bus_count, source,
	direction, from_street, to_street, street_heading, comments,
	start_longitude, start_latitude, end_longitude, end_latitude
`

// RecentRecords returns all records observed at or after since, ordered by
// segment then time so derived features are deterministic for a given
// snapshot.
func (s *Store) RecentRecords(ctx context.Context, since time.Time) ([]domain.TrafficRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM traffic_records WHERE ts >= $1 ORDER BY segment_id, ts`, since)
	if err != nil {
		return nil, fmt.Errorf("query recent records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LatestPerSegment returns the newest observation for every segment.
func (s *Store) LatestPerSegment(ctx context.Context) ([]domain.TrafficRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (segment_id) `+selectColumns+`
		 FROM traffic_records ORDER BY segment_id, ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("query latest per segment: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SpeedSeries returns a street's speed observations in chronological order.
// A street spanning several segments contributes one point per timestamp,
// averaged across its segments.
func (s *Store) SpeedSeries(ctx context.Context, street string) ([]domain.SpeedPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, AVG(speed) FROM traffic_records WHERE street = $1 GROUP BY ts ORDER BY ts`, street)
	if err != nil {
		return nil, fmt.Errorf("query speed series for %q: %w", street, err)
	}
	defer rows.Close()

	var series []domain.SpeedPoint
	for rows.Next() {
		var p domain.SpeedPoint
		if err := rows.Scan(&p.Timestamp, &p.Speed); err != nil {
			return nil, fmt.Errorf("scan speed point: %w", err)
		}
		series = append(series, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate speed series: %w", err)
	}
	return series, nil
}

// Streets returns the streets with at least minObservations rows, the set
// eligible for forecasting.
func (s *Store) Streets(ctx context.Context, minObservations int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT street FROM traffic_records WHERE street <> ''
		 GROUP BY street HAVING COUNT(*) >= $1 ORDER BY street`, minObservations)
	if err != nil {
		return nil, fmt.Errorf("query streets: %w", err)
	}
	defer rows.Close()

	var streets []string
	for rows.Next() {
		var street string
		if err := rows.Scan(&street); err != nil {
			return nil, fmt.Errorf("scan street: %w", err)
		}
		streets = append(streets, street)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streets: %w", err)
	}
	return streets, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanRecords(rows pgx.Rows) ([]domain.TrafficRecord, error) {
	var records []domain.TrafficRecord
	for rows.Next() {
		var rec domain.TrafficRecord
		var source string
		if err := rows.Scan(
			&rec.SegmentID, &rec.Timestamp, &rec.Street, &rec.Speed, &rec.Length, &rec.BusCount, &source,
			&rec.Direction, &rec.FromStreet, &rec.ToStreet, &rec.Heading, &rec.Comments,
			&rec.StartLon, &rec.StartLat, &rec.EndLon, &rec.EndLat,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Source = domain.Source(source)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
