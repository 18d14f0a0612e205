// Package operation dispatches operations to devices, serves the device pull
// path, records status reports and folds delivery state into activities.
package operation

import (
	"context"
	"log/slog"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Permissions checked through the Gate.
const (
	PermissionAdd    = "operations:add"
	PermissionView   = "operations:view"
	PermissionUpdate = "operations:update"
)

// SystemUser is recorded as initiator of periodic operations added without a caller.
const SystemUser = "system"

// Activity statuses that never reach the mapping table.
const (
	StatusInvalid      store.OperationStatus = "INVALID"
	StatusUnauthorized store.OperationStatus = "UNAUTHORIZED"
)

// Codes pushed by the platform itself. They skip the Gate.
var authorizationSkippedCodes = map[string]struct{}{
	"POLICY_BUNDLE": {},
	"MONITOR":       {},
	"POLICY_REVOKE": {},
}

// Gate decides whether the caller in ctx holds permission on an enrolled device.
type Gate interface {
	IsAuthorized(ctx context.Context, enrollment *store.Enrollment, permission string) (bool, error)
}

// PeriodicTasks reports the operation codes dispatched on a schedule per device type.
type PeriodicTasks interface {
	IsPeriodic(deviceType, code string) bool
}

// Store combines the persistence the manager needs.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.EnrollmentStore
	store.OperationStore
	store.ActivityStore
}

// Config holds manager tunables.
type Config struct {
	// Batch threshold used when a scheduled strategy does not set one.
	DefaultBatchSize int
}

type metrics struct {
	dispatched       metric.Int64Counter
	dedupHits        metric.Int64Counter
	deliveryFailures metric.Int64Counter
}

// Manager is the entry point for every operation use case.
type Manager struct {
	store      Store
	gate       Gate
	tasks      PeriodicTasks
	strategies *StrategyCache
	config     Config
	logger     *slog.Logger
	metrics    metrics
	now        func() time.Time
}

// NewManager wires a Manager. strategies may be nil, in which case devices only pull.
func NewManager(s Store, gate Gate, tasks PeriodicTasks, strategies *StrategyCache, cfg Config, log *slog.Logger) *Manager {
	if cfg.DefaultBatchSize <= 0 {
		cfg.DefaultBatchSize = 100
	}

	meter := otel.Meter("opsplane/operation")
	m := &Manager{
		store:      s,
		gate:       gate,
		tasks:      tasks,
		strategies: strategies,
		config:     cfg,
		logger:     log,
		now:        time.Now,
	}

	var err error
	if m.metrics.dispatched, err = meter.Int64Counter("opsplane_mappings_dispatched_total",
		metric.WithDescription("Operation mappings created by AddOperation")); err != nil {
		log.Warn("failed to create metric", "name", "opsplane_mappings_dispatched_total", "error", err)
	}
	if m.metrics.dedupHits, err = meter.Int64Counter("opsplane_dedup_hits_total",
		metric.WithDescription("Devices that already held an outstanding NO_REPEAT operation")); err != nil {
		log.Warn("failed to create metric", "name", "opsplane_dedup_hits_total", "error", err)
	}
	if m.metrics.deliveryFailures, err = meter.Int64Counter("opsplane_delivery_failures_total",
		metric.WithDescription("Push deliveries converted into batch push retries")); err != nil {
		log.Warn("failed to create metric", "name", "opsplane_delivery_failures_total", "error", err)
	}

	return m
}

func (m *Manager) count(ctx context.Context, c metric.Int64Counter, n int) {
	if c != nil && n > 0 {
		c.Add(ctx, int64(n))
	}
}

// skipsAuthorization reports whether code on deviceType bypasses the Gate.
func (m *Manager) skipsAuthorization(deviceType, code string) bool {
	if _, ok := authorizationSkippedCodes[code]; ok {
		return true
	}
	return m.isPeriodic(deviceType, code)
}

func (m *Manager) isPeriodic(deviceType, code string) bool {
	return m.tasks != nil && m.tasks.IsPeriodic(deviceType, code)
}

func principal(ctx context.Context) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, ErrAccessDenied
	}
	return p, nil
}
