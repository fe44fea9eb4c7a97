package producer_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/citypulse/traffic-stream-etl/internal/observability"
	"github.com/citypulse/traffic-stream-etl/internal/producer"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockFetcher struct {
	mu        sync.Mutex
	snapshots [][]domain.RawObservation
	err       error
	calls     int
}

func (m *mockFetcher) FetchSnapshot(_ context.Context) ([]domain.RawObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.snapshots) == 0 {
		return nil, nil
	}
	snap := m.snapshots[0]
	if len(m.snapshots) > 1 {
		m.snapshots = m.snapshots[1:]
	}
	return snap, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.TrafficRecord
	err       error
}

func (m *mockPublisher) PublishBatch(_ context.Context, records []domain.TrafficRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.published = append(m.published, records...)
	return len(records), nil
}

func (m *mockPublisher) records() []domain.TrafficRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TrafficRecord(nil), m.published...)
}

// --- tests ---

func TestProducer_FirstCycleFiresImmediately(t *testing.T) {
	fetcher := &mockFetcher{snapshots: [][]domain.RawObservation{{
		makeObservation("101", "24.5"),
		makeObservation("102", "12.0"),
	}}}
	pub := &mockPublisher{}
	clock := clockwork.NewFakeClock()

	p := producer.New(fetcher, pub, slog.Default(), observability.NewMetricsForTesting(),
		clock, 10*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	// The first cycle runs before any tick.
	require.Eventually(t, func() bool {
		return len(pub.records()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fetcher.callCount())

	cancel()
	<-done
}

func TestProducer_TickerDrivesLaterCycles(t *testing.T) {
	fetcher := &mockFetcher{snapshots: [][]domain.RawObservation{{makeObservation("101", "30")}}}
	pub := &mockPublisher{}
	clock := clockwork.NewFakeClock()

	p := producer.New(fetcher, pub, slog.Default(), observability.NewMetricsForTesting(),
		clock, 10*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	// Wait for the ticker to register before advancing past its interval.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return fetcher.callCount() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Len(t, pub.records(), 3)
}

func TestProducer_FetchFailureIsEmptyCycle(t *testing.T) {
	fetcher := &mockFetcher{err: errors.New("api unavailable")}
	pub := &mockPublisher{}
	clock := clockwork.NewFakeClock()

	p := producer.New(fetcher, pub, slog.Default(), observability.NewMetricsForTesting(),
		clock, 10*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, pub.records())
}

func TestProducer_InvalidObservationsSkipped(t *testing.T) {
	fetcher := &mockFetcher{snapshots: [][]domain.RawObservation{{
		makeObservation("101", "24.5"),
		makeObservation("", "10"),    // missing segment id
		makeObservation("103", "-1"), // no-reading sentinel
		makeObservation("104", "17.2"),
	}}}
	pub := &mockPublisher{}
	clock := clockwork.NewFakeClock()

	p := producer.New(fetcher, pub, slog.Default(), observability.NewMetricsForTesting(),
		clock, 10*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(pub.records()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	recs := pub.records()
	assert.Equal(t, "101", recs[0].SegmentID)
	assert.Equal(t, "104", recs[1].SegmentID)
	assert.Equal(t, domain.SourceStream, recs[0].Source)
}

func TestProducer_MissingTimestampUsesClock(t *testing.T) {
	at := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	obs := makeObservation("101", "22")
	obs.LastUpdated = ""

	fetcher := &mockFetcher{snapshots: [][]domain.RawObservation{{obs}}}
	pub := &mockPublisher{}
	clock := clockwork.NewFakeClockAt(at)

	p := producer.New(fetcher, pub, slog.Default(), observability.NewMetricsForTesting(),
		clock, 10*time.Second, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(pub.records()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, at, pub.records()[0].Timestamp)
}

// --- helpers ---

func makeObservation(segmentID, speed string) domain.RawObservation {
	return domain.RawObservation{
		SegmentID:   segmentID,
		Street:      "State St",
		Length:      "1.1",
		Speed:       speed,
		BusCount:    "3",
		LastUpdated: "2026-03-01T08:00:00Z",
	}
}
