package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/partyhost/idgen"
	"github.com/hazyhaar/partyhost/kit"
)

type contextKey string

// LoggerKey is the context key of the per-request logger.
const LoggerKey contextKey = "shield_logger"

// RequestID assigns each request an ID, echoed in X-Request-ID and stored
// with kit.WithRequestID, and a logger carrying it.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	gen := idgen.Prefixed("req_", idgen.NanoID(8))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = gen()
			}
			w.Header().Set("X-Request-ID", id)

			reqLogger := logger.With("request_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("shield: request", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
