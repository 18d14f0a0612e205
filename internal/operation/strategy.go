package operation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"opsplane/internal/logger"
	"opsplane/internal/store"

	"github.com/google/uuid"
)

// DefaultStrategyTTL is how long a tenant's strategy stays cached.
const DefaultStrategyTTL = 5 * time.Minute

// StrategyConfig tells the dispatcher when to defer pushes to the batch scheduler.
type StrategyConfig struct {
	BatchSize int
	Scheduled bool
}

// NotificationStrategy pushes an operation to a device. Deliver failures
// should wrap ErrDeliveryFailed.
type NotificationStrategy interface {
	Deliver(ctx context.Context, device store.DeviceIdentifier, op *store.Operation) error
	Config() StrategyConfig
}

// StrategyProvider builds a tenant's strategy from its notification config.
// A nil strategy means devices only pull.
type StrategyProvider interface {
	Strategy(ctx context.Context, tenantID uuid.UUID) (NotificationStrategy, error)
}

type cachedStrategy struct {
	strategy  NotificationStrategy
	expiresAt time.Time
}

// StrategyCache keeps one strategy per tenant for a TTL. Concurrent callers
// may both refresh an expired entry; the last write wins.
type StrategyCache struct {
	provider StrategyProvider
	ttl      time.Duration
	logger   *slog.Logger
	entries  sync.Map // tenantID -> *cachedStrategy
	now      func() time.Time
}

// NewStrategyCache wraps provider. A non-positive ttl uses DefaultStrategyTTL.
func NewStrategyCache(provider StrategyProvider, ttl time.Duration, log *slog.Logger) *StrategyCache {
	if ttl <= 0 {
		ttl = DefaultStrategyTTL
	}
	return &StrategyCache{
		provider: provider,
		ttl:      ttl,
		logger:   log,
		now:      time.Now,
	}
}

// Get returns the tenant's strategy, or nil when it has none or the provider
// failed. Failures are logged and not cached.
func (c *StrategyCache) Get(ctx context.Context, tenantID uuid.UUID) NotificationStrategy {
	if c == nil {
		return nil
	}

	if v, ok := c.entries.Load(tenantID); ok {
		cached := v.(*cachedStrategy)
		if c.now().Before(cached.expiresAt) {
			return cached.strategy
		}
	}

	strategy, err := c.provider.Strategy(ctx, tenantID)
	if err != nil {
		logger.FromContext(ctx, c.logger).Warn("failed to resolve notification strategy",
			"tenant_id", tenantID, "error", err)
		return nil
	}

	c.entries.Store(tenantID, &cachedStrategy{
		strategy:  strategy,
		expiresAt: c.now().Add(c.ttl),
	})
	return strategy
}

// Invalidate drops the tenant's cached strategy.
func (c *StrategyCache) Invalidate(tenantID uuid.UUID) {
	c.entries.Delete(tenantID)
}
