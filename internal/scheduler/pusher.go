// Package scheduler runs the background loops of opsplane: the batch pusher
// that drains mappings flagged for scheduled delivery, and the monitor that
// dispatches periodic device tasks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"opsplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Deliverer pushes one claimed mapping through its tenant's strategy.
type Deliverer interface {
	DeliverScheduled(ctx context.Context, item store.ScheduledDelivery) error
}

// PusherConfig holds configuration for the batch pusher.
type PusherConfig struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
	MaxBackoff   time.Duration // Maximum backoff when nothing is flagged (default: 30s)
	ClaimLimit   int           // Upper bound on one claim (default: 50)
}

// Pusher claims mappings flagged for batch push and delivers them.
type Pusher struct {
	queue     store.PushQueue
	deliverer Deliverer
	config    PusherConfig
	logger    *slog.Logger
	done      chan struct{}
}

func NewPusher(q store.PushQueue, d Deliverer, config PusherConfig, log *slog.Logger) *Pusher {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.ClaimLimit <= 0 {
		config.ClaimLimit = 50
	}

	return &Pusher{
		queue:     q,
		deliverer: d,
		config:    config,
		logger:    log.With("component", "pusher", "pusher_id", config.ID),
		done:      make(chan struct{}),
	}
}

// RegisterBacklogGauge reports how many mappings wait for batch push.
func RegisterBacklogGauge(meter metric.Meter, q store.PushQueue) error {
	_, err := meter.Int64ObservableGauge("opsplane_batch_push_backlog",
		metric.WithDescription("Mappings flagged for scheduled batch push"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := q.CountScheduled(ctx)
			if err != nil {
				return err
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}

// Run starts the pull-loop. It blocks until the context is cancelled, then
// waits for in-flight deliveries.
func (p *Pusher) Run(ctx context.Context) error {
	p.logger.Info("pusher starting", "concurrency", p.config.Concurrency)

	sem := make(chan struct{}, p.config.Concurrency)
	var wg sync.WaitGroup

	// Signals that a slot became free or more work is likely.
	pollNow := make(chan struct{}, 1)

	// Grows while nothing is flagged or pushes keep failing, resets once
	// work goes through.
	currentBackoff := p.config.PollInterval

	// Failed pushes since the last successful one. A failure never triggers
	// an immediate re-poll, so a down transport is retried at backoff pace.
	var failures atomic.Int64

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("context cancelled, waiting for in-flight deliveries")
			wg.Wait()
			close(p.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := p.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}
			limit := min(availableSlots, p.config.ClaimLimit)

			items, err := p.queue.ClaimScheduledDeliveries(ctx, limit)
			if err != nil {
				p.logger.Error("claim failed", "error", err)
				continue
			}

			if len(items) == 0 {
				currentBackoff = min(currentBackoff*2, p.config.MaxBackoff)
				continue
			}

			failing := failures.Load() > 0
			if failing {
				currentBackoff = min(currentBackoff*2, p.config.MaxBackoff)
			} else {
				currentBackoff = p.config.PollInterval
			}
			p.logger.Debug("claimed scheduled deliveries", "count", len(items), "failing", failing)

			for _, item := range items {
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.ScheduledDelivery) {
					defer wg.Done()
					ok := p.deliver(ctx, item)
					<-sem
					if !ok {
						failures.Add(1)
						return
					}
					failures.Store(0)
					triggerPoll()
				}(item)
			}

			if !failing && len(items) < limit {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the pusher has fully stopped.
func (p *Pusher) Done() <-chan struct{} {
	return p.done
}

// deliver pushes one item and reports whether the push went through.
func (p *Pusher) deliver(ctx context.Context, item store.ScheduledDelivery) bool {
	tracer := otel.Tracer("batch-pusher")
	ctx, span := tracer.Start(ctx, "push_scheduled",
		trace.WithAttributes(
			attribute.Int64("operation.id", item.Operation.ID),
			attribute.String("operation.code", item.Operation.Code),
			attribute.String("device", item.Device.String()),
			attribute.String("tenant.id", item.TenantID.String()),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	// The claim already cleared the flag, so finish the push even if
	// shutdown starts meanwhile.
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := p.deliverer.DeliverScheduled(deliverCtx, item); err != nil {
		span.RecordError(err)
		p.logger.Warn("scheduled delivery failed",
			"device", item.Device.String(), "operation_id", item.Operation.ID, "error", err)
		return false
	}
	p.logger.Debug("scheduled delivery sent",
		"device", item.Device.String(), "operation_id", item.Operation.ID)
	return true
}
