// Package shield holds the HTTP middleware of the admin surface.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.AdminStack(logger) {
//		r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// AdminStack returns the middleware for the operator API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func AdminStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		RequestID(logger),
	}
}
