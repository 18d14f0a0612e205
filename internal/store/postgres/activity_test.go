package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var activityRowColumns = []string{
	"id", "code", "type", "initiated_by", "created_at",
	"enrollment_id", "device_type", "identifier", "status", "updated_at",
	"id", "payload", "received_at",
}

func TestActivityRows_WithResponses(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`WHERE o.tenant_id = \$1 AND o.id = ANY\(\$2\) AND pm.enrollment_id = \$3`).
		WithArgs(tenantID, sqlmock.AnyArg(), int64(7)).
		WillReturnRows(sqlmock.NewRows(activityRowColumns).
			AddRow(int64(1), "REBOOT", "COMMAND", "admin", now, int64(7), "android", "a", "COMPLETED", now, int64(3), []byte(`{"ok":true}`), now).
			AddRow(int64(1), "REBOOT", "COMMAND", "admin", now, int64(7), "android", "a", "COMPLETED", now, nil, nil, nil))

	rows, err := s.ActivityRows(context.Background(), tenantID, []int64{1}, 7)
	if err != nil {
		t.Fatalf("ActivityRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ResponseID != 3 || string(rows[0].ResponsePayload) != `{"ok":true}` {
		t.Errorf("unexpected response row: %+v", rows[0])
	}
	if rows[1].ResponseID != 0 || rows[1].ResponsePayload != nil {
		t.Errorf("expected row without response, got %+v", rows[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestActivityRowsSince_FiltersByUser(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`AND m.updated_at > \$2 AND o.initiated_by = \$5\s+ORDER BY m.updated_at, m.id\s+LIMIT \$3 OFFSET \$4`).
		WithArgs(tenantID, since, 50, 0, "alice").
		WillReturnRows(sqlmock.NewRows(activityRowColumns))

	rows, err := s.ActivityRowsSince(context.Background(), tenantID, since, "alice", 50, 0)
	if err != nil {
		t.Fatalf("ActivityRowsSince failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCountActivities(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT COUNT\(\*\)[\s\S]+m.updated_at > \$2`).
		WithArgs(tenantID, since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))
	mock.ExpectQuery(`SELECT COUNT\(\*\)[\s\S]+o.code = \$2`).
		WithArgs(tenantID, "REBOOT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(9)))

	n, err := s.CountActivitiesSince(context.Background(), tenantID, since, "")
	if err != nil || n != 4 {
		t.Errorf("CountActivitiesSince = %d, %v; want 4, nil", n, err)
	}
	n, err = s.CountActivitiesByCode(context.Background(), tenantID, "REBOOT")
	if err != nil || n != 9 {
		t.Errorf("CountActivitiesByCode = %d, %v; want 9, nil", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
