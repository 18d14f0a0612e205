package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"opsplane/internal/store"
	"opsplane/pkg/api"
)

func TestCreateTenant(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*mockStore)
		expectedStatus int
		expectedInBody string
		expectedType   store.NotifierType
	}{
		{
			name:           "Success Defaults To Local",
			body:           `{"name": "Acme corp"}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: `"type":"LOCAL"`,
			expectedType:   store.NotifierLocal,
		},
		{
			name:           "Success With Kafka Batching",
			body:           `{"name": "Acme corp", "notification": {"type": "kafka", "batch_size": 50, "scheduled": true}}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: `"batch_size":50`,
			expectedType:   store.NotifierKafka,
		},
		{
			name:           "Invalid Request Body",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Invalid request body",
		},
		{
			name:           "Missing Name",
			body:           `{"name": "  "}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "Name is required",
		},
		{
			name:           "Unknown Notifier",
			body:           `{"name": "Acme", "notification": {"type": "PIGEON"}}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "LOCAL, KAFKA or REDIS",
		},
		{
			name:           "Negative Batch Size",
			body:           `{"name": "Acme", "notification": {"type": "REDIS", "batch_size": -1}}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "batch_size",
		},
		{
			name: "Database Error",
			body: `{"name": "Crash Corp"}`,
			mockSetup: func(m *mockStore) {
				m.createTenantErr = errors.New("db down")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Failed to create",
		},
		{
			name: "Commit Error",
			body: `{"name": "Crash Corp"}`,
			mockSetup: func(m *mockStore) {
				m.tx.commitErr = errors.New("serialization failure")
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Failed to commit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			mock := &mockStore{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			h := newTestHandlers(mock, nil)

			// Execute
			rr := serve("POST /internal/tenants", h.CreateTenant, http.MethodPost, "/internal/tenants", tt.body)

			// Assertions
			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedInBody != "" && !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %s want substring %s", rr.Body.String(), tt.expectedInBody)
			}

			if tt.expectedStatus != http.StatusCreated {
				if mock.tx.committed {
					t.Error("transaction should not be committed on failure")
				}
				return
			}

			var resp api.TenantResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.ID != mock.capturedTenant.ID.String() {
				t.Errorf("response id %s does not match stored tenant %s", resp.ID, mock.capturedTenant.ID)
			}
			if mock.capturedConfig.TenantID != mock.capturedTenant.ID {
				t.Error("notification config not bound to the new tenant")
			}
			if mock.capturedConfig.Type != tt.expectedType {
				t.Errorf("expected notifier %s, got %s", tt.expectedType, mock.capturedConfig.Type)
			}
			if !mock.tx.committed {
				t.Error("expected transaction to be committed")
			}
		})
	}
}

func TestUpdateNotificationConfig(t *testing.T) {
	tests := []struct {
		name              string
		target            string
		body              string
		mockSetup         func(*mockStore)
		expectedStatus    int
		expectInvalidated bool
	}{
		{
			name:              "Success",
			target:            "/internal/tenants/" + testTenant.String() + "/notification",
			body:              `{"type": "redis", "batch_size": 10, "scheduled": true}`,
			expectedStatus:    http.StatusOK,
			expectInvalidated: true,
		},
		{
			name:           "Invalid Tenant ID",
			target:         "/internal/tenants/not-a-uuid/notification",
			body:           `{"type": "REDIS"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unknown Notifier",
			target:         "/internal/tenants/" + testTenant.String() + "/notification",
			body:           `{"type": "SMOKE"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "Tenant Not Found",
			target: "/internal/tenants/" + testTenant.String() + "/notification",
			body:   `{"type": "LOCAL"}`,
			mockSetup: func(m *mockStore) {
				m.upsertConfigErr = store.ErrNotFound
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:   "Database Error",
			target: "/internal/tenants/" + testTenant.String() + "/notification",
			body:   `{"type": "LOCAL"}`,
			mockSetup: func(m *mockStore) {
				m.upsertConfigErr = errors.New("db down")
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockStore{}
			if tt.mockSetup != nil {
				tt.mockSetup(mock)
			}
			invalidator := &mockInvalidator{}
			h := New(mock, &mockOps{}, &mockTokens{}, invalidator, testLogger())

			rr := serve("PUT /internal/tenants/{tenant_id}/notification", h.UpdateNotificationConfig, http.MethodPut, tt.target, tt.body)
			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %d but want %d", rr.Code, tt.expectedStatus)
			}

			if got := len(invalidator.invalidated) == 1; got != tt.expectInvalidated {
				t.Errorf("expected invalidated=%v, got %v", tt.expectInvalidated, invalidator.invalidated)
			}
			if tt.expectInvalidated {
				if invalidator.invalidated[0] != testTenant {
					t.Errorf("invalidated wrong tenant %s", invalidator.invalidated[0])
				}
				if mock.capturedConfig.Type != store.NotifierRedis || !mock.capturedConfig.Scheduled {
					t.Errorf("unexpected stored config %+v", mock.capturedConfig)
				}
			}
		})
	}
}
