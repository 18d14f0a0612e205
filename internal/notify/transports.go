package notify

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Transports holds the push clients shared by every tenant.
type Transports struct {
	Kafka *kafka.Writer
	Redis *redis.Client
}

// Dial opens the configured transports. An empty broker list or redis URL
// leaves that transport unset.
func Dial(ctx context.Context, brokers []string, topic, redisURL string) (*Transports, error) {
	t := &Transports{}
	if len(brokers) > 0 {
		w, err := NewKafkaWriter(brokers, topic)
		if err != nil {
			return nil, err
		}
		t.Kafka = w
	}
	if redisURL != "" {
		client, err := ConnectRedis(ctx, redisURL)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.Redis = client
	}
	return t, nil
}

// Provider binds the transports to a config source. Unset transports stay
// nil interfaces so tenants selecting them fail to resolve.
func (t *Transports) Provider(configs ConfigSource) *Provider {
	p := NewProvider(configs, nil, nil)
	if t.Kafka != nil {
		p.kafka = t.Kafka
	}
	if t.Redis != nil {
		p.redis = t.Redis
	}
	return p
}

func (t *Transports) Close() error {
	var errs []error
	if t.Kafka != nil {
		errs = append(errs, t.Kafka.Close())
	}
	if t.Redis != nil {
		errs = append(errs, t.Redis.Close())
	}
	return errors.Join(errs...)
}
