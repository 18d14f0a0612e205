package notify

import (
	"context"
	"errors"
	"fmt"

	"opsplane/internal/operation"
	"opsplane/internal/store"

	"github.com/google/uuid"
)

// ConfigSource reads a tenant's notifier setup.
type ConfigSource interface {
	GetNotificationConfig(ctx context.Context, tenantID uuid.UUID) (*store.NotificationConfig, error)
}

// Provider builds a tenant's strategy from its stored notification config.
// Transports are shared by every tenant; a nil transport makes tenants that
// select it fail to resolve.
type Provider struct {
	configs ConfigSource
	kafka   messageWriter
	redis   publisher
}

func NewProvider(configs ConfigSource, kafka messageWriter, redis publisher) *Provider {
	return &Provider{configs: configs, kafka: kafka, redis: redis}
}

// Strategy returns nil for tenants without a config and for LOCAL tenants.
func (p *Provider) Strategy(ctx context.Context, tenantID uuid.UUID) (operation.NotificationStrategy, error) {
	cfg, err := p.configs.GetNotificationConfig(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notification config: %w", err)
	}

	strategyCfg := operation.StrategyConfig{BatchSize: cfg.BatchSize, Scheduled: cfg.Scheduled}

	switch cfg.Type {
	case store.NotifierLocal, "":
		return nil, nil
	case store.NotifierKafka:
		if p.kafka == nil {
			return nil, fmt.Errorf("tenant %s selects KAFKA but no brokers are configured", tenantID)
		}
		return NewKafkaStrategy(p.kafka, strategyCfg), nil
	case store.NotifierRedis:
		if p.redis == nil {
			return nil, fmt.Errorf("tenant %s selects REDIS but no redis url is configured", tenantID)
		}
		return NewRedisStrategy(p.redis, strategyCfg), nil
	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.Type)
	}
}
