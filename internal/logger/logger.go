// Package logger builds the JSON slog logger shared by the binaries and
// attaches request and caller fields to it.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"opsplane/internal/auth"
)

// requestIDKey is the context key for request/correlation IDs.
type requestIDKey struct{}

// New creates a JSON logger on stdout at level: debug, info, warn or error.
func New(level string) *slog.Logger {
	return newLogger(os.Stdout, level)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// ParseLevel reads a level name. An empty name is info.
func ParseLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// WithRequestID returns a new context with the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// FromContext returns base with the request ID and the caller attached: the
// tenant, plus the calling device or the operator's username.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	var attrs []any
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		attrs = append(attrs, "tenant_id", p.TenantID.String())
		switch {
		case p.Device != nil:
			attrs = append(attrs, "caller_device", p.Device.String())
		case p.Username != "":
			attrs = append(attrs, "caller", p.Username)
		}
	}

	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}
