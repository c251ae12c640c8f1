// Package redis publishes job events on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var _ support.Publisher = (*Publisher)(nil)

// Publisher sends JSON payloads with PUBLISH.
type Publisher struct {
	client redis.UniversalClient
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

// Publish marshals payload and publishes it to the channel named by topic. The
// returned id is the number of subscribers that received it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	msgJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	receivers, err := p.client.Publish(ctx, topic, msgJSON).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return fmt.Sprintf("redis-%d", receivers), nil
}
