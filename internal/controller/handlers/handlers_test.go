package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/operation"
	"opsplane/internal/store"

	"github.com/google/uuid"
)

// Mock transaction
type mockTx struct {
	committed  bool
	commitErr  error
	rolledBack bool
}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}

func (m *mockTx) Rollback() error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

// Mock Store
type mockStore struct {
	beginTxErr error
	pingErr    error
	tx         mockTx

	// Tenant Hooks
	createTenantErr error
	getTenantErr    error
	upsertConfigErr error

	// Spies
	capturedTenant *store.Tenant
	capturedConfig *store.NotificationConfig
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if m.beginTxErr != nil {
		return nil, m.beginTxErr
	}
	return &m.tx, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreateTenant(ctx context.Context, tx store.DBTransaction, tenant *store.Tenant, cfg *store.NotificationConfig) error {
	m.capturedTenant = tenant
	m.capturedConfig = cfg
	return m.createTenantErr
}

func (m *mockStore) GetTenantByID(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	if m.getTenantErr != nil {
		return nil, m.getTenantErr
	}
	return &store.Tenant{ID: id, Name: "acme"}, nil
}

func (m *mockStore) GetNotificationConfig(ctx context.Context, tenantID uuid.UUID) (*store.NotificationConfig, error) {
	return nil, store.ErrNotFound
}

func (m *mockStore) UpsertNotificationConfig(ctx context.Context, cfg *store.NotificationConfig) error {
	m.capturedConfig = cfg
	return m.upsertConfigErr
}

// mockOps lets each test override the manager calls it exercises.
type mockOps struct {
	addOperation           func(ctx context.Context, op *store.Operation, devices []store.DeviceIdentifier) (*operation.Activity, error)
	getOperation           func(ctx context.Context, id int64) (*store.Operation, error)
	activity               func(ctx context.Context, id string) (*operation.Activity, error)
	deviceActivity         func(ctx context.Context, id string, device store.DeviceIdentifier) (*operation.Activity, error)
	activities             func(ctx context.Context, ids []string) ([]*operation.Activity, error)
	activitiesSince        func(ctx context.Context, q operation.ActivityQuery) ([]*operation.Activity, error)
	countActivitiesSince   func(ctx context.Context, q operation.ActivityQuery) (int64, error)
	activitiesByCode       func(ctx context.Context, code string, limit, offset int) ([]*operation.Activity, error)
	countActivitiesByCode  func(ctx context.Context, code string) (int64, error)
	listOperationsPage     func(ctx context.Context, device store.DeviceIdentifier, limit, offset int) ([]*store.Operation, int64, error)
	listOperationsByStatus func(ctx context.Context, device store.DeviceIdentifier, status store.OperationStatus) ([]*store.Operation, error)
	getDeviceOperation     func(ctx context.Context, device store.DeviceIdentifier, id int64) (*store.Operation, error)
	listPending            func(ctx context.Context, device store.DeviceIdentifier) ([]*store.Operation, error)
	nextOperation          func(ctx context.Context, device store.DeviceIdentifier, throttle time.Duration) (*store.Operation, error)
	updateStatus           func(ctx context.Context, device store.DeviceIdentifier, id int64, status store.OperationStatus, response json.RawMessage) error
}

func (m *mockOps) AddOperation(ctx context.Context, op *store.Operation, devices []store.DeviceIdentifier) (*operation.Activity, error) {
	return m.addOperation(ctx, op, devices)
}

func (m *mockOps) GetOperation(ctx context.Context, id int64) (*store.Operation, error) {
	return m.getOperation(ctx, id)
}

func (m *mockOps) Activity(ctx context.Context, id string) (*operation.Activity, error) {
	return m.activity(ctx, id)
}

func (m *mockOps) DeviceActivity(ctx context.Context, id string, device store.DeviceIdentifier) (*operation.Activity, error) {
	return m.deviceActivity(ctx, id, device)
}

func (m *mockOps) Activities(ctx context.Context, ids []string) ([]*operation.Activity, error) {
	return m.activities(ctx, ids)
}

func (m *mockOps) ActivitiesSince(ctx context.Context, q operation.ActivityQuery) ([]*operation.Activity, error) {
	return m.activitiesSince(ctx, q)
}

func (m *mockOps) CountActivitiesSince(ctx context.Context, q operation.ActivityQuery) (int64, error) {
	return m.countActivitiesSince(ctx, q)
}

func (m *mockOps) ActivitiesByCode(ctx context.Context, code string, limit, offset int) ([]*operation.Activity, error) {
	return m.activitiesByCode(ctx, code, limit, offset)
}

func (m *mockOps) CountActivitiesByCode(ctx context.Context, code string) (int64, error) {
	return m.countActivitiesByCode(ctx, code)
}

func (m *mockOps) ListOperationsPage(ctx context.Context, device store.DeviceIdentifier, limit, offset int) ([]*store.Operation, int64, error) {
	return m.listOperationsPage(ctx, device, limit, offset)
}

func (m *mockOps) ListOperationsByStatus(ctx context.Context, device store.DeviceIdentifier, status store.OperationStatus) ([]*store.Operation, error) {
	return m.listOperationsByStatus(ctx, device, status)
}

func (m *mockOps) GetDeviceOperation(ctx context.Context, device store.DeviceIdentifier, id int64) (*store.Operation, error) {
	return m.getDeviceOperation(ctx, device, id)
}

func (m *mockOps) ListPendingOperations(ctx context.Context, device store.DeviceIdentifier) ([]*store.Operation, error) {
	return m.listPending(ctx, device)
}

func (m *mockOps) NextOperation(ctx context.Context, device store.DeviceIdentifier, throttle time.Duration) (*store.Operation, error) {
	return m.nextOperation(ctx, device, throttle)
}

func (m *mockOps) UpdateStatus(ctx context.Context, device store.DeviceIdentifier, id int64, status store.OperationStatus, response json.RawMessage) error {
	return m.updateStatus(ctx, device, id, status, response)
}

type mockTokens struct {
	captured *auth.Principal
	ttl      time.Duration
	err      error
}

func (m *mockTokens) Issue(p *auth.Principal, ttl time.Duration) (string, time.Time, error) {
	m.captured = p
	m.ttl = ttl
	if m.err != nil {
		return "", time.Time{}, m.err
	}
	return "signed.token.value", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), nil
}

type mockInvalidator struct {
	invalidated []uuid.UUID
}

func (m *mockInvalidator) Invalidate(tenantID uuid.UUID) {
	m.invalidated = append(m.invalidated, tenantID)
}

var testTenant = uuid.MustParse("6a1f0c6e-3a5b-4c1e-9a7e-2f1d8f3b9c01")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandlers(ms *mockStore, ops *mockOps) *Handlers {
	if ms == nil {
		ms = &mockStore{}
	}
	if ops == nil {
		ops = &mockOps{}
	}
	return New(ms, ops, &mockTokens{}, &mockInvalidator{}, testLogger())
}

// serve routes the request through a mux so path values resolve.
func serve(pattern string, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, handler)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{TenantID: testTenant, Username: "alice"}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func sampleActivity() *operation.Activity {
	return &operation.Activity{
		ID:          operation.ActivityID(42),
		OperationID: 42,
		Code:        "REBOOT",
		Type:        store.OperationTypeCommand,
		InitiatedBy: "alice",
		CreatedAt:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Statuses: []operation.ActivityStatus{
			{
				Device:    store.DeviceIdentifier{Type: "android", ID: "d1"},
				Status:    store.StatusPending,
				UpdatedAt: time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC),
			},
			{
				Device: store.DeviceIdentifier{Type: "android", ID: "ghost"},
				Status: operation.StatusInvalid,
			},
		},
	}
}

func sampleOperation(id int64) *store.Operation {
	return &store.Operation{
		ID:          id,
		Code:        "REBOOT",
		Type:        store.OperationTypeCommand,
		Control:     store.ControlRepeatable,
		Enabled:     true,
		InitiatedBy: "alice",
		CreatedAt:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Status:      store.StatusPending,
	}
}
