package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"opsplane/internal/logger"
	"opsplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxIdentifierLength = 255

// ValidDevice reports whether d is a well-formed device reference.
func ValidDevice(d store.DeviceIdentifier) bool {
	if d.Type == "" || d.ID == "" || len(d.Type) > maxIdentifierLength || len(d.ID) > maxIdentifierLength {
		return false
	}
	for _, c := range d.Type {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	for _, c := range d.ID {
		if c < 0x21 || c == 0x7f {
			return false
		}
	}
	return true
}

func validateOperation(op *store.Operation) error {
	if op == nil {
		return validationError("operation is required")
	}
	if op.Code == "" || len(op.Code) > maxIdentifierLength {
		return validationError("operation code must be 1 to %d bytes", maxIdentifierLength)
	}
	if !op.Type.Valid() {
		return validationError("unknown operation type %q", op.Type)
	}
	switch op.Control {
	case store.ControlRepeatable, store.ControlNoRepeat:
	default:
		return validationError("unknown operation control %q", op.Control)
	}
	return nil
}

// dispatch tracks devices through one AddOperation call.
type dispatch struct {
	invalid      []store.DeviceIdentifier
	unauthorized []store.DeviceIdentifier
	authorized   []*store.Enrollment
	periodic     bool
}

// statuses lists INVALID, then UNAUTHORIZED, then PENDING for the authorized devices.
func (d *dispatch) statuses(includePending bool) []ActivityStatus {
	out := make([]ActivityStatus, 0, len(d.invalid)+len(d.unauthorized)+len(d.authorized))
	for _, dev := range d.invalid {
		out = append(out, ActivityStatus{Device: dev, Status: StatusInvalid})
	}
	for _, dev := range d.unauthorized {
		out = append(out, ActivityStatus{Device: dev, Status: StatusUnauthorized})
	}
	if includePending {
		for _, e := range d.authorized {
			out = append(out, ActivityStatus{Device: e.Device, Status: store.StatusPending})
		}
	}
	return out
}

// AddOperation validates and authorizes devices, skips those that already
// hold an outstanding NO_REPEAT operation of the same code, persists the
// operation with one mapping per remaining device and pushes it when the
// tenant has a strategy. Rejected devices are reported in the returned
// Activity rather than as errors.
func (m *Manager) AddOperation(ctx context.Context, op *store.Operation, devices []store.DeviceIdentifier) (*Activity, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, validationError("at least one device is required")
	}
	if err := validateOperation(op); err != nil {
		return nil, err
	}

	tracer := otel.Tracer("operation-manager")
	ctx, span := tracer.Start(ctx, "add_operation",
		trace.WithAttributes(
			attribute.String("operation.code", op.Code),
			attribute.String("operation.type", string(op.Type)),
			attribute.String("tenant.id", p.TenantID.String()),
			attribute.Int("devices.requested", len(devices)),
		),
	)
	defer span.End()

	log := logger.FromContext(ctx, m.logger).With("operation_code", op.Code, "tenant_id", p.TenantID)

	d, err := m.classify(ctx, p.TenantID, op.Code, devices)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	initiatedBy := p.Username
	if initiatedBy == "" && d.periodic {
		initiatedBy = SystemUser
	}

	activity := &Activity{
		Code:        op.Code,
		Type:        op.Type,
		InitiatedBy: initiatedBy,
		CreatedAt:   m.now().UTC(),
	}

	if len(d.authorized) == 0 {
		log.Info("no authorized devices, nothing queued",
			"invalid", len(d.invalid), "unauthorized", len(d.unauthorized))
		activity.Statuses = d.statuses(false)
		return activity, nil
	}

	strategy := m.strategies.Get(ctx, p.TenantID)

	byEnrollment := make(map[int64]*store.Enrollment, len(d.authorized))
	var toPersist []int64
	for _, e := range d.authorized {
		if _, dup := byEnrollment[e.ID]; dup {
			continue
		}
		byEnrollment[e.ID] = e
		toPersist = append(toPersist, e.ID)
	}

	if op.Control == store.ControlNoRepeat {
		existing, err := m.store.OutstandingOperations(ctx, nil, op.Code, toPersist)
		if err != nil {
			return nil, storeError("look up outstanding operations", err)
		}
		if len(existing) > 0 {
			m.redeliver(ctx, log, strategy, byEnrollment, existing)
			toPersist = withoutKeys(toPersist, existing)
		}
		if len(toPersist) == 0 {
			log.Info("every device already holds this operation, nothing queued")
			activity.Statuses = d.statuses(false)
			return activity, nil
		}
	}

	scheduledPush := false
	if strategy != nil {
		if cfg := strategy.Config(); cfg.Scheduled {
			batchSize := cfg.BatchSize
			if batchSize <= 0 {
				batchSize = m.config.DefaultBatchSize
			}
			scheduledPush = len(d.authorized) >= batchSize
		}
	}

	created := &store.Operation{
		TenantID:    p.TenantID,
		Code:        op.Code,
		Type:        op.Type,
		Control:     op.Control,
		Enabled:     op.Enabled,
		Payload:     op.Payload,
		InitiatedBy: initiatedBy,
		CreatedAt:   activity.CreatedAt,
	}

	inserted, err := m.persist(ctx, created, toPersist, scheduledPush)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if lost := withoutValues(toPersist, inserted); len(lost) > 0 {
		// A concurrent dispatch of the same code won these devices.
		existing, err := m.store.OutstandingOperations(ctx, nil, op.Code, lost)
		if err != nil {
			log.Warn("failed to look up operations of concurrent dispatch", "error", err)
		} else {
			m.redeliver(ctx, log, strategy, byEnrollment, existing)
		}
	}

	if len(inserted) == 0 {
		activity.Statuses = d.statuses(false)
		return activity, nil
	}

	m.count(ctx, m.metrics.dispatched, len(inserted))
	span.SetAttributes(attribute.Int64("operation.id", created.ID), attribute.Int("devices.queued", len(inserted)))
	log.Info("operation queued", "operation_id", created.ID, "devices", len(inserted), "scheduled_push", scheduledPush)

	if strategy != nil && !scheduledPush {
		for _, enrollmentID := range inserted {
			m.deliver(ctx, log, strategy, byEnrollment[enrollmentID].Device, created, enrollmentID)
		}
	}

	activity.ID = ActivityID(created.ID)
	activity.OperationID = created.ID
	if !d.periodic {
		activity.Statuses = d.statuses(true)
	}
	return activity, nil
}

// classify sorts devices into invalid, unauthorized and authorized.
func (m *Manager) classify(ctx context.Context, tenantID uuid.UUID, code string, devices []store.DeviceIdentifier) (*dispatch, error) {
	d := &dispatch{}
	for _, dev := range devices {
		if !ValidDevice(dev) {
			d.invalid = append(d.invalid, dev)
			continue
		}

		e, err := m.store.ActiveEnrollment(ctx, tenantID, dev)
		if errors.Is(err, store.ErrNotFound) {
			d.invalid = append(d.invalid, dev)
			continue
		}
		if err != nil {
			return nil, storeError("resolve device "+dev.String(), err)
		}

		if m.isPeriodic(dev.Type, code) {
			d.periodic = true
		}
		if m.skipsAuthorization(dev.Type, code) {
			d.authorized = append(d.authorized, e)
			continue
		}

		allowed, err := m.gate.IsAuthorized(ctx, e, PermissionAdd)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthorization, err)
		}
		if !allowed {
			d.unauthorized = append(d.unauthorized, dev)
			continue
		}
		d.authorized = append(d.authorized, e)
	}
	return d, nil
}

// persist writes the operation and its mappings in one transaction and
// returns the enrollments whose mapping was inserted. Nothing is committed
// when no mapping could be inserted.
func (m *Manager) persist(ctx context.Context, op *store.Operation, enrollmentIDs []int64, scheduled bool) ([]int64, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := m.store.CreateOperation(ctx, tx, op); err != nil {
		return nil, storeError("create operation", err)
	}

	inserted, err := m.store.CreateMappings(ctx, tx, op, enrollmentIDs, scheduled)
	if err != nil {
		return nil, storeError("create mappings", err)
	}
	if len(inserted) == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("commit operation", err)
	}
	return inserted, nil
}

// redeliver pushes the existing operation to devices that already hold it.
// The payload of the new request is not persisted for them.
func (m *Manager) redeliver(ctx context.Context, log *slog.Logger, strategy NotificationStrategy, byEnrollment map[int64]*store.Enrollment, existing map[int64]int64) {
	m.count(ctx, m.metrics.dedupHits, len(existing))

	for enrollmentID, operationID := range existing {
		e := byEnrollment[enrollmentID]
		if e == nil {
			continue
		}
		log.Debug("device already holds operation, reusing it",
			"device", e.Device.String(), "operation_id", operationID)

		if strategy == nil {
			continue
		}
		op, err := m.store.GetDeviceOperation(ctx, enrollmentID, operationID)
		if err != nil {
			log.Warn("failed to load operation for re-delivery",
				"device", e.Device.String(), "operation_id", operationID, "error", err)
			continue
		}
		m.deliver(ctx, log, strategy, e.Device, op, enrollmentID)
	}
}

// deliver pushes op and falls back to the batch scheduler when the push fails.
func (m *Manager) deliver(ctx context.Context, log *slog.Logger, strategy NotificationStrategy, device store.DeviceIdentifier, op *store.Operation, enrollmentID int64) {
	err := strategy.Deliver(ctx, device, op)
	if err == nil {
		return
	}

	m.count(ctx, m.metrics.deliveryFailures, 1)
	log.Warn("push delivery failed, scheduling batch push",
		"device", device.String(), "operation_id", op.ID, "error", err)

	if err := m.markForBatchPush(ctx, op.ID, enrollmentID); err != nil {
		log.Error("failed to schedule batch push",
			"device", device.String(), "operation_id", op.ID, "error", err)
	}
}

func (m *Manager) markForBatchPush(ctx context.Context, operationID, enrollmentID int64) error {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.store.SetScheduledForBatchPush(ctx, tx, operationID, enrollmentID, true); err != nil {
		return err
	}
	return tx.Commit()
}

// DeliverScheduled pushes one mapping claimed by the batch scheduler. A failed
// push flags the mapping again and returns an error wrapping ErrDeliveryFailed.
func (m *Manager) DeliverScheduled(ctx context.Context, item store.ScheduledDelivery) error {
	strategy := m.strategies.Get(ctx, item.TenantID)
	if strategy == nil {
		// The tenant moved to pull only; the device will fetch it.
		return nil
	}

	op := item.Operation
	if err := strategy.Deliver(ctx, item.Device, &op); err != nil {
		m.count(ctx, m.metrics.deliveryFailures, 1)
		if flagErr := m.markForBatchPush(ctx, op.ID, item.EnrollmentID); flagErr != nil {
			return fmt.Errorf("%w: %w (re-flag failed: %v)", ErrDeliveryFailed, err, flagErr)
		}
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

func withoutKeys(ids []int64, drop map[int64]int64) []int64 {
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func withoutValues(ids, drop []int64) []int64 {
	dropped := make(map[int64]struct{}, len(drop))
	for _, id := range drop {
		dropped[id] = struct{}{}
	}
	var out []int64
	for _, id := range ids {
		if _, ok := dropped[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
