package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"opsplane/internal/operation"
	"opsplane/internal/store"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix starts every device channel name.
const ChannelPrefix = "opsplane:devices:"

// publisher is the part of a redis client the strategy uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// ConnectRedis accepts a redis:// URL or a plain host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Channel is the pub/sub channel a device subscribes to.
func Channel(device store.DeviceIdentifier) string {
	return ChannelPrefix + device.Type + ":" + device.ID
}

// RedisStrategy publishes operations on a per-device channel.
type RedisStrategy struct {
	client publisher
	config operation.StrategyConfig
	now    func() time.Time
}

func NewRedisStrategy(client publisher, cfg operation.StrategyConfig) *RedisStrategy {
	return &RedisStrategy{client: client, config: cfg, now: time.Now}
}

// Deliver publishes one message. A device that is not subscribed at the
// moment misses it and finds the operation on its next pull.
func (s *RedisStrategy) Deliver(ctx context.Context, device store.DeviceIdentifier, op *store.Operation) error {
	body, err := json.Marshal(newMessage(device, op, s.now()))
	if err != nil {
		return fmt.Errorf("%w: failed to encode message: %w", operation.ErrDeliveryFailed, err)
	}
	if err := s.client.Publish(ctx, Channel(device), body).Err(); err != nil {
		return fmt.Errorf("%w: redis publish for %s: %w", operation.ErrDeliveryFailed, device.String(), err)
	}
	return nil
}

func (s *RedisStrategy) Config() operation.StrategyConfig {
	return s.config
}
