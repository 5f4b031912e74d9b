package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/POA-Delta/backend-replacement/internal/domain"
)

// Publisher implements domain.Publisher using Redis Pub/Sub. Reconciliation
// outcomes are fanned out to whatever is listening; delivery is
// fire-and-forget.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher backed by the given Client.
func NewPublisher(c *Client) *Publisher {
	return &Publisher{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Publisher = (*Publisher)(nil)
