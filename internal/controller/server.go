// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"opsplane/internal/controller/handlers"
	"opsplane/internal/controller/middleware"
)

// Config carries what the router needs besides the handlers.
type Config struct {
	Addr           string
	InternalSecret string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Limiter throttles the device pull endpoints. Nil disables throttling.
	Limiter *middleware.RateLimiter
}

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	logger     *slog.Logger
}

// New creates a new controller server.
func New(cfg Config, h *handlers.Handlers, tokens middleware.TokenParser, log *slog.Logger) *Server {
	authMW := middleware.Authenticate(tokens, log)
	internalMW := middleware.RequireInternalAuth(cfg.InternalSecret)
	deviceMW := func(next http.Handler) http.Handler {
		if cfg.Limiter != nil {
			next = cfg.Limiter.Middleware()(next)
		}
		return authMW(next)
	}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	// Operator apis
	mux.Handle("POST /operations", authMW(http.HandlerFunc(h.AddOperation)))
	mux.Handle("GET /operations/{opid}", authMW(http.HandlerFunc(h.GetOperation)))
	mux.Handle("GET /activities", authMW(http.HandlerFunc(h.ListActivities)))
	mux.Handle("GET /activities/{activity_id}", authMW(http.HandlerFunc(h.GetActivity)))
	mux.Handle("GET /devices/{type}/{id}/operations", authMW(http.HandlerFunc(h.ListDeviceOperations)))
	mux.Handle("GET /devices/{type}/{id}/operations/{opid}", authMW(http.HandlerFunc(h.GetDeviceOperation)))

	// Device pull path
	mux.Handle("GET /devices/{type}/{id}/pending", deviceMW(http.HandlerFunc(h.PendingOperations)))
	mux.Handle("GET /devices/{type}/{id}/next", deviceMW(http.HandlerFunc(h.NextOperation)))
	mux.Handle("PUT /devices/{type}/{id}/operations/{opid}", deviceMW(http.HandlerFunc(h.UpdateOperationStatus)))

	// Internal endpoints
	// these should run on a separate port or strict network rules.
	mux.Handle("POST /internal/tenants", internalMW(http.HandlerFunc(h.CreateTenant)))
	mux.Handle("PUT /internal/tenants/{tenant_id}/notification", internalMW(http.HandlerFunc(h.UpdateNotificationConfig)))
	mux.Handle("POST /internal/tokens", internalMW(http.HandlerFunc(h.IssueToken)))

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      middleware.RequestID(mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		limiter: cfg.Limiter,
		logger:  log,
	}
}

// Handler returns the root handler with every route and middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if s.limiter != nil {
		go s.sweep(ctx)
	}

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// sweep evicts rate limit buckets of devices that stopped polling.
func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down controller")
	return s.httpServer.Shutdown(ctx)
}
