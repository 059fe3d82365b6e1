package shield

import "net/http"

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// DefaultHeaders suits a JSON API that is never framed nor cached.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// SecurityHeaders sets the configured headers on every response.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, v := range map[string]string{
				"Content-Security-Policy": cfg.CSP,
				"X-Frame-Options":         cfg.XFrameOptions,
				"X-Content-Type-Options":  cfg.XContentTypeOptions,
				"Referrer-Policy":         cfg.ReferrerPolicy,
				"Cache-Control":           cfg.CacheControl,
			} {
				if v != "" {
					h.Set(name, v)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
