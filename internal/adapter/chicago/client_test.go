package chicago_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/adapter/chicago"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotBody = `[
	{
		"segmentid": "1321",
		"street": "Western Ave",
		"direction": "NB",
		"from_street": "47th",
		"to_street": "43rd",
		"length": "0.51",
		"current_speed": "22.73",
		"bus_count": "4",
		"last_updated": "2026-03-01T08:00:00.000"
	},
	{
		"segmentid": "1322",
		"street": "Western Ave",
		"current_speed": "-1",
		"length": "0.49"
	}
]`

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(snapshotBody)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c := chicago.NewClient(srv.URL, 5*time.Second, slog.Default())
	obs, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "1321", obs[0].SegmentID)
	assert.Equal(t, "Western Ave", obs[0].Street)
	assert.Equal(t, "22.73", obs[0].Speed)
	assert.Equal(t, "2026-03-01T08:00:00.000", obs[0].LastUpdated)

	// Sentinel readings come through raw; rejecting them is normalization's
	// job.
	assert.Equal(t, "-1", obs[1].Speed)
}

func TestFetchSnapshot_EmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c := chicago.NewClient(srv.URL, 5*time.Second, slog.Default())
	obs, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestFetchSnapshot_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := chicago.NewClient(srv.URL, 5*time.Second, slog.Default())
	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "throttled")
}

func TestFetchSnapshot_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"not":"an array"}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c := chicago.NewClient(srv.URL, 5*time.Second, slog.Default())
	_, err := c.FetchSnapshot(context.Background())
	assert.Error(t, err)
}

func TestFetchSnapshot_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := chicago.NewClient(srv.URL, 5*time.Second, slog.Default())
	_, err := c.FetchSnapshot(ctx)
	assert.Error(t, err)
}
