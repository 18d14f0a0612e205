package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"opsplane/internal/logger"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"Generated", "", false},
		{"Honoured", "req-from-client", true},
		{"Too Long", strings.Repeat("x", 200), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Header().Get(RequestIDHeader) != seen {
				t.Errorf("response header %q does not match context %q", rr.Header().Get(RequestIDHeader), seen)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("expected client id kept, got %q", seen)
			}
			if !tt.keep {
				if _, err := uuid.Parse(seen); err != nil {
					t.Errorf("expected generated uuid, got %q", seen)
				}
			}
		})
	}
}
