// Package redispub publishes freshly computed congestion scores to a Redis
// channel so the dashboard can update without polling the store. Publishing
// is best-effort: the scoring session is authoritative and a Redis outage
// never fails a retrain.
package redispub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Publisher pushes score payloads onto a pub/sub channel.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// New connects a Redis client from a URL and verifies connectivity.
func New(ctx context.Context, redisURL, channel string, logger *slog.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{client: client, channel: channel, logger: logger}, nil
}

// PublishScores marshals each score and publishes it on the channel,
// returning the number delivered. Individual failures are logged and
// skipped.
func (p *Publisher) PublishScores(ctx context.Context, scores []domain.SegmentScore) int {
	published := 0
	for _, score := range scores {
		data, err := json.Marshal(score)
		if err != nil {
			p.logger.Warn("score marshal failed", "error", err)
			continue
		}
		if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
			p.logger.Warn("score publish failed", "error", err)
			continue
		}
		published++
	}
	return published
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
