package loader_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/loader"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type recordingStore struct {
	records []domain.TrafficRecord
	err     error
}

func (s *recordingStore) UpsertRecord(_ context.Context, rec domain.TrafficRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

// --- tests ---

func TestLoad_HistoricalExport(t *testing.T) {
	csvData := strings.Join([]string{
		"segmentid,street,length,speed,bus_count,time",
		"101,State St,1.10,24.5,3,2026-03-01T08:00:00Z",
		"102,Halsted St,0.80,12.0,7,2026-03-01T08:00:00Z",
	}, "\n")

	store := &recordingStore{}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	res, err := l.Load(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, loader.Result{Loaded: 2}, res)

	require.Len(t, store.records, 2)
	first := store.records[0]
	assert.Equal(t, "101", first.SegmentID)
	assert.Equal(t, "State St", first.Street)
	assert.InEpsilon(t, 24.5, first.Speed, 0.0001)
	assert.Equal(t, 3, first.BusCount)
	assert.Equal(t, domain.SourceBatch, first.Source)
	assert.Equal(t, time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC), first.Timestamp)
}

func TestLoad_LiveFeedColumnNames(t *testing.T) {
	// Newer exports use the feed's own column names.
	csvData := strings.Join([]string{
		"segment_id,street,length,current_speed,bus_count,last_updated",
		"201,Clark St,1.40,31.0,1,2026-03-01 09:30:00",
	}, "\n")

	store := &recordingStore{}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	res, err := l.Load(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, "201", store.records[0].SegmentID)
}

func TestLoad_BadRowsSkippedNotFatal(t *testing.T) {
	csvData := strings.Join([]string{
		"segmentid,street,length,speed,time",
		"101,State St,1.10,24.5,2026-03-01T08:00:00Z",
		",No Segment St,1.00,20.0,2026-03-01T08:00:00Z", // missing segment id
		"103,Sentinel St,1.00,-1,2026-03-01T08:00:00Z",  // no-reading sentinel
		"104,No Time St,1.00,20.0,",                     // no timestamp to fall back on
		"105,Western Ave,2.00,17.5,2026-03-01T08:00:00Z",
	}, "\n")

	store := &recordingStore{}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	res, err := l.Load(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, loader.Result{Loaded: 2, Skipped: 3}, res)
	assert.Equal(t, "101", store.records[0].SegmentID)
	assert.Equal(t, "105", store.records[1].SegmentID)
}

func TestLoad_RaggedLineSkipped(t *testing.T) {
	csvData := strings.Join([]string{
		"segmentid,street,length,speed,time",
		`101,State" St,1.10,24.5,2026-03-01T08:00:00Z`,
		"102,State St,1.10,24.5,2026-03-01T08:00:00Z",
	}, "\n")

	store := &recordingStore{}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	res, err := l.Load(context.Background(), strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, 1, res.Skipped)
}

func TestLoad_HeaderWithoutSegmentID(t *testing.T) {
	csvData := "street,length,speed\nState St,1.1,20"

	l := loader.New(&recordingStore{}, slog.Default(), observability.NewMetricsForTesting())
	_, err := l.Load(context.Background(), strings.NewReader(csvData))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment id")
}

func TestLoad_StoreFailureAborts(t *testing.T) {
	csvData := strings.Join([]string{
		"segmentid,street,length,speed,time",
		"101,State St,1.10,24.5,2026-03-01T08:00:00Z",
	}, "\n")

	store := &recordingStore{err: errors.New("connection refused")}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	res, err := l.Load(context.Background(), strings.NewReader(csvData))
	require.Error(t, err)
	assert.Zero(t, res.Loaded)
}

func TestValidate_DoesNotWrite(t *testing.T) {
	csvData := strings.Join([]string{
		"segmentid,street,length,speed,time",
		"101,State St,1.10,24.5,2026-03-01T08:00:00Z",
		",Bad Row,1.00,20.0,2026-03-01T08:00:00Z",
	}, "\n")

	store := &recordingStore{}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	res, err := l.Validate(strings.NewReader(csvData))
	require.NoError(t, err)
	assert.Equal(t, loader.Result{Loaded: 1, Skipped: 1}, res)
	assert.Empty(t, store.records)
}

func TestLoad_ReloadIsRepeatable(t *testing.T) {
	csvData := strings.Join([]string{
		"segmentid,street,length,speed,time",
		"101,State St,1.10,24.5,2026-03-01T08:00:00Z",
	}, "\n")

	store := &recordingStore{}
	l := loader.New(store, slog.Default(), observability.NewMetricsForTesting())

	for i := 0; i < 2; i++ {
		res, err := l.Load(context.Background(), strings.NewReader(csvData))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Loaded)
	}
	// Both loads produce the identical upsert; the store's key discipline
	// collapses them into one row.
	require.Len(t, store.records, 2)
	assert.Equal(t, store.records[0], store.records[1])
}
