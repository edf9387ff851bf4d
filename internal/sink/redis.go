package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the Redis pub/sub publisher.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`

	// ChannelPrefix is prepended to the event type to form the channel name.
	ChannelPrefix string `yaml:"channel_prefix,omitempty" json:"channel_prefix,omitempty"`
}

// RedisPublisher publishes each event to the channel named after its type,
// so subscribers can PSUBSCRIBE to patterns such as "persistence.user.*".
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisPublisher connects a client for the configuration.
func NewRedisPublisher(config RedisConfig) (*RedisPublisher, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisPublisher{client: client, prefix: config.ChannelPrefix, owned: true}, nil
}

// NewRedisPublisherWithClient publishes through an existing client, which
// Close leaves open.
func NewRedisPublisherWithClient(client redis.UniversalClient, channelPrefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: channelPrefix}
}

// Channel returns the channel an event type is published on.
func (p *RedisPublisher) Channel(eventType string) string {
	return p.prefix + eventType
}

// Publish sends the messages in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	pipe := p.client.Pipeline()
	for _, m := range msgs {
		pipe.Publish(ctx, p.Channel(m.Type), m.Value)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %d messages to Redis: %w", len(msgs), err)
	}
	return nil
}

// Close closes the client when the publisher created it.
func (p *RedisPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}
