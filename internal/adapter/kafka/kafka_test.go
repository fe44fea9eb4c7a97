package kafka

import (
	"log/slog"
	"testing"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/config"
	"github.com/citypulse/traffic-stream-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessage(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("1321"),
		Value:     []byte(`{"segment_id":"1321"}`),
		Topic:     "realtime-traffic",
		Partition: 2,
		Offset:    42,
		Time:      now,
	}

	r := newTestReader(t)
	raw := r.mapMessage(msg)

	assert.Equal(t, []byte("1321"), raw.Key)
	assert.JSONEq(t, `{"segment_id":"1321"}`, string(raw.Value))
	assert.Equal(t, "realtime-traffic", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.NotNil(t, raw.Commit)
}

func TestRecordToMessage(t *testing.T) {
	ts := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	rec := domain.TrafficRecord{
		SegmentID: "1321",
		Street:    "Western Ave",
		Timestamp: ts,
		Speed:     12.5,
		Length:    1.7,
		Source:    domain.SourceStream,
	}

	msg, err := recordToMessage(rec)
	require.NoError(t, err)

	assert.Equal(t, []byte("1321"), msg.Key)
	assert.Contains(t, string(msg.Value), `"street":"Western Ave"`)
	assert.Equal(t, ts, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "source", msg.Headers[0].Key)
	assert.Equal(t, []byte("stream"), msg.Headers[0].Value)
}

func TestNewReader_StartOffset(t *testing.T) {
	cfg := testConfig()
	r := NewReader(cfg, nil, slog.Default())
	t.Cleanup(func() { _ = r.Close() })
	assert.Equal(t, kafkago.FirstOffset, r.reader.Config().StartOffset)

	cfg.KafkaStartOffset = "latest"
	r2 := NewReader(cfg, nil, slog.Default())
	t.Cleanup(func() { _ = r2.Close() })
	assert.Equal(t, kafkago.LastOffset, r2.reader.Config().StartOffset)
}

func newTestReader(t *testing.T) *Reader {
	t.Helper()
	r := NewReader(testConfig(), nil, slog.Default())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func testConfig() *config.Config {
	return &config.Config{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaTopic:         "realtime-traffic",
		KafkaGroupID:       "traffic-stream-etl",
		KafkaStartOffset:   "earliest",
		BatchFlushInterval: 100 * time.Millisecond,
	}
}
