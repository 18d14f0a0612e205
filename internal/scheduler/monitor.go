package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/operation"
	"opsplane/internal/store"
	"opsplane/internal/tasks"

	"github.com/google/uuid"
)

// Dispatcher queues an operation for devices.
type Dispatcher interface {
	AddOperation(ctx context.Context, op *store.Operation, devices []store.DeviceIdentifier) (*operation.Activity, error)
}

// EnrollmentLister lists the active enrollments of a device type across tenants.
type EnrollmentLister interface {
	ListActiveEnrollments(ctx context.Context, deviceType string) ([]store.Enrollment, error)
}

// Monitor dispatches every registered periodic task at its frequency to all
// active devices of the task's type. Operations are added as the system,
// one dispatch per tenant.
type Monitor struct {
	dispatcher  Dispatcher
	enrollments EnrollmentLister
	registry    *tasks.Registry
	logger      *slog.Logger
	done        chan struct{}
}

func NewMonitor(d Dispatcher, enrollments EnrollmentLister, registry *tasks.Registry, log *slog.Logger) *Monitor {
	return &Monitor{
		dispatcher:  d,
		enrollments: enrollments,
		registry:    registry,
		logger:      log.With("component", "monitor"),
		done:        make(chan struct{}),
	}
}

// Run starts one ticker per task and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, deviceType := range m.registry.DeviceTypes() {
		for _, task := range m.registry.Tasks(deviceType) {
			wg.Add(1)
			go func(deviceType string, task tasks.Task) {
				defer wg.Done()
				m.loop(ctx, deviceType, task)
			}(deviceType, task)
		}
	}

	<-ctx.Done()
	wg.Wait()
	close(m.done)
	return ctx.Err()
}

// Done returns a channel that is closed when every task loop has stopped.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

func (m *Monitor) loop(ctx context.Context, deviceType string, task tasks.Task) {
	m.logger.Info("periodic task scheduled", "device_type", deviceType, "code", task.Code, "frequency", task.Frequency)

	ticker := time.NewTicker(task.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunTask(ctx, deviceType, task.Code); err != nil {
				m.logger.Error("periodic task failed", "device_type", deviceType, "code", task.Code, "error", err)
			}
		}
	}
}

// RunTask dispatches code once to every active device of deviceType. A
// failing tenant does not stop the others; their errors are joined.
func (m *Monitor) RunTask(ctx context.Context, deviceType, code string) error {
	enrollments, err := m.enrollments.ListActiveEnrollments(ctx, deviceType)
	if err != nil {
		return fmt.Errorf("failed to list %s enrollments: %w", deviceType, err)
	}

	byTenant := make(map[uuid.UUID][]store.DeviceIdentifier)
	var order []uuid.UUID
	for _, e := range enrollments {
		if _, ok := byTenant[e.TenantID]; !ok {
			order = append(order, e.TenantID)
		}
		byTenant[e.TenantID] = append(byTenant[e.TenantID], e.Device)
	}

	var errs []error
	for _, tenantID := range order {
		devices := byTenant[tenantID]
		tenantCtx := auth.WithPrincipal(ctx, auth.System(tenantID))
		op := &store.Operation{
			Code:    code,
			Type:    store.OperationTypeCommand,
			Control: store.ControlNoRepeat,
			Enabled: true,
		}

		activity, err := m.dispatcher.AddOperation(tenantCtx, op, devices)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		m.logger.Debug("periodic task dispatched",
			"tenant_id", tenantID, "code", code, "devices", len(devices), "activity_id", activity.ID)
	}
	return errors.Join(errs...)
}
