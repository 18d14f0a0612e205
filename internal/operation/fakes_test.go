package operation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"opsplane/internal/auth"
	"opsplane/internal/store"

	"github.com/google/uuid"
)

var testTenant = uuid.MustParse("11111111-2222-3333-4444-555555555555")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func asUser(username string) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{TenantID: testTenant, Username: username})
}

func dev(id string) store.DeviceIdentifier {
	return store.DeviceIdentifier{Type: "android", ID: id}
}

type fakeMapping struct {
	id           int64
	operationID  int64
	enrollmentID int64
	status       store.OperationStatus
	scheduled    bool
	createdAt    time.Time
	updatedAt    time.Time
}

type fakeResponse struct {
	id         int64
	mappingID  int64
	payload    json.RawMessage
	receivedAt time.Time
}

// fakeStore is an in-memory Store. Writes through a transaction are undone on
// Rollback unless Commit ran first.
type fakeStore struct {
	mu          sync.Mutex
	enrollments map[int64]*store.Enrollment
	operations  map[int64]*store.Operation
	mappings    []*fakeMapping
	responses   []*fakeResponse
	nextID      int64
	clock       time.Time

	createMappingsErr error
	// afterOutstanding runs once after the first OutstandingOperations call.
	afterOutstanding func()
	statusChanges    []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		enrollments: make(map[int64]*store.Enrollment),
		operations:  make(map[int64]*store.Operation),
		clock:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) enroll(id int64, device store.DeviceIdentifier, owner string, status store.EnrollmentStatus) {
	s.enrollments[id] = &store.Enrollment{ID: id, TenantID: testTenant, Device: device, Owner: owner, Status: status}
}

func (s *fakeStore) mappingsFor(enrollmentID int64) []*fakeMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeMapping
	for _, m := range s.mappings {
		if m.enrollmentID == enrollmentID {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeStore) operationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.operations)
}

type fakeTx struct {
	store     *fakeStore
	undo      []func()
	committed bool
}

func (tx *fakeTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errors.New("not supported")
}

func (tx *fakeTx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (tx *fakeTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

func (tx *fakeTx) Commit() error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback() error {
	if tx.committed {
		return sql.ErrTxDone
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	return nil
}

func onRollback(tx store.DBTransaction, fn func()) {
	if ftx, ok := tx.(*fakeTx); ok {
		ftx.undo = append(ftx.undo, fn)
	}
}

func (s *fakeStore) BeginTx(ctx context.Context) (store.Tx, error) {
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) ActiveEnrollment(ctx context.Context, tenantID uuid.UUID, device store.DeviceIdentifier) (*store.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *store.Enrollment
	for _, e := range s.enrollments {
		if e.TenantID == tenantID && e.Device == device && e.Status != store.EnrollmentRemoved {
			if best == nil || e.ID > best.ID {
				best = e
			}
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (s *fakeStore) SetEnrollmentStatus(ctx context.Context, tx store.DBTransaction, enrollmentID int64, status store.EnrollmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[enrollmentID]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	s.statusChanges = append(s.statusChanges, enrollmentID)
	return nil
}

func (s *fakeStore) ListActiveEnrollments(ctx context.Context, deviceType string) ([]store.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Enrollment
	for _, e := range s.enrollments {
		if e.Device.Type == deviceType && e.Status == store.EnrollmentActive {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) CreateOperation(ctx context.Context, tx store.DBTransaction, op *store.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op.ID = s.id()
	cp := *op
	s.operations[op.ID] = &cp
	id := op.ID
	onRollback(tx, func() { delete(s.operations, id) })
	return nil
}

func (s *fakeStore) outstanding(code string, enrollmentID int64) (int64, bool) {
	for _, m := range s.mappings {
		op := s.operations[m.operationID]
		if m.enrollmentID == enrollmentID && op.Code == code &&
			(m.status == store.StatusPending || m.status == store.StatusNotNow) {
			return m.operationID, true
		}
	}
	return 0, false
}

func (s *fakeStore) CreateMappings(ctx context.Context, tx store.DBTransaction, op *store.Operation, enrollmentIDs []int64, scheduled bool) ([]int64, error) {
	if s.createMappingsErr != nil {
		return nil, s.createMappingsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []int64
	for _, enrollmentID := range enrollmentIDs {
		if op.Control == store.ControlNoRepeat {
			if existing, ok := s.outstanding(op.Code, enrollmentID); ok &&
				s.operations[existing].Control == store.ControlNoRepeat {
				continue
			}
		}
		now := s.tick()
		m := &fakeMapping{
			id:           s.id(),
			operationID:  op.ID,
			enrollmentID: enrollmentID,
			status:       store.StatusPending,
			scheduled:    scheduled,
			createdAt:    now,
			updatedAt:    now,
		}
		s.mappings = append(s.mappings, m)
		onRollback(tx, func() { s.removeMapping(m.id) })
		inserted = append(inserted, enrollmentID)
	}
	return inserted, nil
}

func (s *fakeStore) removeMapping(id int64) {
	for i, m := range s.mappings {
		if m.id == id {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			return
		}
	}
}

func (s *fakeStore) OutstandingOperations(ctx context.Context, tx store.DBTransaction, code string, enrollmentIDs []int64) (map[int64]int64, error) {
	s.mu.Lock()
	result := make(map[int64]int64)
	for _, id := range enrollmentIDs {
		if opID, ok := s.outstanding(code, id); ok {
			result[id] = opID
		}
	}
	hook := s.afterOutstanding
	s.afterOutstanding = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result, nil
}

func (s *fakeStore) mapping(operationID, enrollmentID int64) *fakeMapping {
	for _, m := range s.mappings {
		if m.operationID == operationID && m.enrollmentID == enrollmentID {
			return m
		}
	}
	return nil
}

func (s *fakeStore) SetScheduledForBatchPush(ctx context.Context, tx store.DBTransaction, operationID, enrollmentID int64, scheduled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mapping(operationID, enrollmentID)
	if m == nil {
		return store.ErrNotFound
	}
	prev := m.scheduled
	m.scheduled = scheduled
	onRollback(tx, func() { m.scheduled = prev })
	return nil
}

func (s *fakeStore) GetOperation(ctx context.Context, tenantID uuid.UUID, id int64) (*store.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[id]
	if !ok || op.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (s *fakeStore) deviceOperation(m *fakeMapping) *store.Operation {
	cp := *s.operations[m.operationID]
	cp.Status = m.status
	cp.StatusUpdatedAt = m.updatedAt
	return &cp
}

func (s *fakeStore) GetDeviceOperation(ctx context.Context, enrollmentID, operationID int64) (*store.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mapping(operationID, enrollmentID)
	if m == nil {
		return nil, store.ErrNotFound
	}
	return s.deviceOperation(m), nil
}

func (s *fakeStore) ListDeviceOperations(ctx context.Context, enrollmentID int64, limit, offset int) ([]*store.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Operation
	for _, m := range s.mappings {
		if m.enrollmentID == enrollmentID {
			out = append(out, s.deviceOperation(m))
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) CountDeviceOperations(ctx context.Context, enrollmentID int64) (int64, error) {
	return int64(len(s.mappingsFor(enrollmentID))), nil
}

func (s *fakeStore) ListDeviceOperationsByStatus(ctx context.Context, enrollmentID int64, status store.OperationStatus) ([]*store.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Operation
	// Mapping order, not id order, so callers must sort.
	for i := len(s.mappings) - 1; i >= 0; i-- {
		m := s.mappings[i]
		if m.enrollmentID == enrollmentID && m.status == status {
			out = append(out, s.deviceOperation(m))
		}
	}
	return out, nil
}

func (s *fakeStore) OldestDeviceOperation(ctx context.Context, enrollmentID int64, status store.OperationStatus) (*store.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.enrollmentID == enrollmentID && m.status == status {
			return s.deviceOperation(m), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) UpdateMappingStatus(ctx context.Context, tx store.DBTransaction, enrollmentID, operationID int64, status store.OperationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mapping(operationID, enrollmentID)
	if m == nil {
		return store.ErrNotFound
	}
	if (status == store.StatusPending || status == store.StatusNotNow) &&
		s.operations[operationID].Control == store.ControlNoRepeat {
		if other, ok := s.outstanding(s.operations[operationID].Code, enrollmentID); ok && other != operationID &&
			s.operations[other].Control == store.ControlNoRepeat {
			return store.ErrConflict
		}
	}
	prevStatus, prevUpdated := m.status, m.updatedAt
	m.status = status
	m.updatedAt = s.tick()
	onRollback(tx, func() { m.status, m.updatedAt = prevStatus, prevUpdated })
	return nil
}

func (s *fakeStore) AddResponse(ctx context.Context, tx store.DBTransaction, enrollmentID, operationID int64, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.mapping(operationID, enrollmentID)
	if m == nil {
		return store.ErrNotFound
	}
	now := s.tick()
	r := &fakeResponse{id: s.id(), mappingID: m.id, payload: payload, receivedAt: now}
	s.responses = append(s.responses, r)
	prevUpdated := m.updatedAt
	m.updatedAt = now
	onRollback(tx, func() {
		s.responses = s.responses[:len(s.responses)-1]
		m.updatedAt = prevUpdated
	})
	return nil
}

func (s *fakeStore) rowsFor(mappings []*fakeMapping) []store.ActivityRow {
	var rows []store.ActivityRow
	for _, m := range mappings {
		op := s.operations[m.operationID]
		e := s.enrollments[m.enrollmentID]
		base := store.ActivityRow{
			OperationID:        op.ID,
			OperationCode:      op.Code,
			OperationType:      op.Type,
			InitiatedBy:        op.InitiatedBy,
			OperationCreatedAt: op.CreatedAt,
			EnrollmentID:       m.enrollmentID,
			Device:             e.Device,
			Status:             m.status,
			UpdatedAt:          m.updatedAt,
		}
		found := false
		for _, r := range s.responses {
			if r.mappingID == m.id {
				row := base
				row.ResponseID = r.id
				row.ResponsePayload = r.payload
				row.ResponseReceivedAt = r.receivedAt
				rows = append(rows, row)
				found = true
			}
		}
		if !found {
			rows = append(rows, base)
		}
	}
	return rows
}

func (s *fakeStore) ActivityRows(ctx context.Context, tenantID uuid.UUID, operationIDs []int64, enrollmentID int64) ([]store.ActivityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool)
	for _, id := range operationIDs {
		wanted[id] = true
	}
	var selected []*fakeMapping
	for _, m := range s.mappings {
		op := s.operations[m.operationID]
		if wanted[m.operationID] && op.TenantID == tenantID && (enrollmentID == 0 || m.enrollmentID == enrollmentID) {
			selected = append(selected, m)
		}
	}
	return s.rowsFor(selected), nil
}

func (s *fakeStore) since(tenantID uuid.UUID, since time.Time, user string) []*fakeMapping {
	var selected []*fakeMapping
	for _, m := range s.mappings {
		op := s.operations[m.operationID]
		if op.TenantID == tenantID && m.updatedAt.After(since) && (user == "" || op.InitiatedBy == user) {
			selected = append(selected, m)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].updatedAt.Before(selected[j].updatedAt) })
	return selected
}

func page(mappings []*fakeMapping, limit, offset int) []*fakeMapping {
	if offset > len(mappings) {
		offset = len(mappings)
	}
	mappings = mappings[offset:]
	if limit < len(mappings) {
		mappings = mappings[:limit]
	}
	return mappings
}

func (s *fakeStore) ActivityRowsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, user string, limit, offset int) ([]store.ActivityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsFor(page(s.since(tenantID, since, user), limit, offset)), nil
}

func (s *fakeStore) CountActivitiesSince(ctx context.Context, tenantID uuid.UUID, since time.Time, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.since(tenantID, since, user))), nil
}

func (s *fakeStore) byCode(tenantID uuid.UUID, code string) []*fakeMapping {
	var selected []*fakeMapping
	for _, m := range s.mappings {
		op := s.operations[m.operationID]
		if op.TenantID == tenantID && op.Code == code {
			selected = append(selected, m)
		}
	}
	return selected
}

func (s *fakeStore) ActivityRowsByCode(ctx context.Context, tenantID uuid.UUID, code string, limit, offset int) ([]store.ActivityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsFor(page(s.byCode(tenantID, code), limit, offset)), nil
}

func (s *fakeStore) CountActivitiesByCode(ctx context.Context, tenantID uuid.UUID, code string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byCode(tenantID, code))), nil
}

// fakeGate allows devices by id. err, when set, fails every check.
type fakeGate struct {
	mu      sync.Mutex
	allowed map[string]bool
	err     error
	calls   []string
}

func (g *fakeGate) IsAuthorized(ctx context.Context, enrollment *store.Enrollment, permission string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, enrollment.Device.ID+":"+permission)
	if g.err != nil {
		return false, g.err
	}
	return g.allowed[enrollment.Device.ID], nil
}

func allowAll(ids ...string) *fakeGate {
	g := &fakeGate{allowed: make(map[string]bool)}
	for _, id := range ids {
		g.allowed[id] = true
	}
	return g
}

type delivery struct {
	device      string
	operationID int64
}

type fakeStrategy struct {
	mu        sync.Mutex
	config    StrategyConfig
	fail      map[string]bool
	delivered []delivery
}

func (f *fakeStrategy) Deliver(ctx context.Context, device store.DeviceIdentifier, op *store.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[device.ID] {
		return ErrDeliveryFailed
	}
	f.delivered = append(f.delivered, delivery{device.ID, op.ID})
	return nil
}

func (f *fakeStrategy) Config() StrategyConfig {
	return f.config
}

type fakeProvider struct {
	mu       sync.Mutex
	strategy NotificationStrategy
	err      error
	calls    int
}

func (p *fakeProvider) Strategy(ctx context.Context, tenantID uuid.UUID) (NotificationStrategy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.strategy, nil
}

type fakeTasks map[string][]string

func (t fakeTasks) IsPeriodic(deviceType, code string) bool {
	for _, c := range t[deviceType] {
		if c == code {
			return true
		}
	}
	return false
}

func newTestManager(s *fakeStore, gate Gate, strategy NotificationStrategy) *Manager {
	var cache *StrategyCache
	if strategy != nil {
		cache = NewStrategyCache(&fakeProvider{strategy: strategy}, time.Minute, discardLogger())
	}
	m := NewManager(s, gate, fakeTasks{"android": {"DEVICE_INFO"}}, cache, Config{DefaultBatchSize: 100}, discardLogger())
	m.now = func() time.Time {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.clock
	}
	return m
}
