package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"opsplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var enrollmentColumns = []string{"id", "tenant_id", "device_type", "identifier", "owner", "status"}

func TestActiveEnrollment_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()
	device := store.DeviceIdentifier{Type: "android", ID: "dev-1"}

	mock.ExpectQuery(`SELECT e.id, e.tenant_id, d.device_type, d.identifier, e.owner, e.status\s+FROM enrollments e`).
		WithArgs(tenantID, "android", "dev-1", "REMOVED").
		WillReturnRows(sqlmock.NewRows(enrollmentColumns).
			AddRow(int64(7), tenantID.String(), "android", "dev-1", "alice", "UNREACHABLE"))

	e, err := s.ActiveEnrollment(context.Background(), tenantID, device)
	if err != nil {
		t.Fatalf("ActiveEnrollment failed: %v", err)
	}
	if e.ID != 7 {
		t.Errorf("got id %d, want 7", e.ID)
	}
	if e.Status != store.EnrollmentUnreachable {
		t.Errorf("got status %s, want UNREACHABLE", e.Status)
	}
	if e.Device != device {
		t.Errorf("got device %v, want %v", e.Device, device)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestActiveEnrollment_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM enrollments e`).
		WillReturnError(sql.ErrNoRows)

	_, err := s.ActiveEnrollment(context.Background(), uuid.New(), store.DeviceIdentifier{Type: "ios", ID: "x"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected store.ErrNotFound, got %v", err)
	}
}

func TestSetEnrollmentStatus(t *testing.T) {
	tests := []struct {
		name         string
		rowsAffected int64
		wantErr      error
	}{
		{name: "Updated", rowsAffected: 1},
		{name: "Missing Enrollment", rowsAffected: 0, wantErr: store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			defer s.db.Close()

			mock.ExpectExec(`UPDATE enrollments\s+SET status = \$1`).
				WithArgs("ACTIVE", int64(7)).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			err := s.SetEnrollmentStatus(context.Background(), nil, 7, store.EnrollmentActive)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got err %v, want %v", err, tt.wantErr)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestListActiveEnrollments(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	t1, t2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM enrollments e`).
		WithArgs("android", "ACTIVE").
		WillReturnRows(sqlmock.NewRows(enrollmentColumns).
			AddRow(int64(1), t1.String(), "android", "a", "alice", "ACTIVE").
			AddRow(int64(2), t2.String(), "android", "b", "bob", "ACTIVE"))

	enrollments, err := s.ListActiveEnrollments(context.Background(), "android")
	if err != nil {
		t.Fatalf("ListActiveEnrollments failed: %v", err)
	}
	if len(enrollments) != 2 {
		t.Fatalf("expected 2 enrollments, got %d", len(enrollments))
	}
	if enrollments[1].TenantID != t2 || enrollments[1].Owner != "bob" {
		t.Errorf("unexpected second enrollment: %+v", enrollments[1])
	}
}
