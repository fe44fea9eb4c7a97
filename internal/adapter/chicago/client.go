// Package chicago fetches the City of Chicago current traffic congestion
// estimates snapshot. The Socrata endpoint returns every segment's latest
// reading as a JSON array of string-typed fields; normalization into strict
// records happens in the producer, not here.
package chicago

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
)

// Client pulls segment snapshots from the traffic API. It implements
// producer.SnapshotFetcher.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a traffic API client with a bounded request timeout.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FetchSnapshot performs one bounded-time pull of the current snapshot.
// It returns zero or more raw observations; an empty response body is a
// valid empty snapshot, not an error.
func (c *Client) FetchSnapshot(ctx context.Context) ([]domain.RawObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("traffic API error: status %d: %s", resp.StatusCode, body)
	}

	var observations []domain.RawObservation
	if err := json.NewDecoder(resp.Body).Decode(&observations); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	c.logger.Debug("snapshot fetched", "segments", len(observations))
	return observations, nil
}
