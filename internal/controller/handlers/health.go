package handlers

import (
	"context"
	"net/http"
	"time"
)

// readyTimeout bounds the dependency checks behind /readyz.
const readyTimeout = 2 * time.Second

// Healthz reports that the process is serving. It checks no dependencies.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz reports whether the controller can take device traffic. Every
// operation path goes through the database, so it is the only check.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "check", "database", "error", err)
		checks["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	h.respondJson(w, status, map[string]interface{}{"status": state, "checks": checks})
}
