package middleware

import (
	"net/http"
	"strings"

	"github.com/evacmap/evacmap/internal/api/models"
)

// APIContentSecurityPolicy forbids everything; JSON, SVG and event stream
// responses load nothing.
const APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// PageContentSecurityPolicy is set by the map page handler instead. Leaflet
// comes from unpkg and tiles from any HTTPS host.
var PageContentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self' 'unsafe-inline' https://unpkg.com",
	"style-src 'self' 'unsafe-inline' https://unpkg.com",
	"img-src 'self' data: https:",
	"connect-src 'self'",
	"frame-ancestors 'none'",
}, "; ")

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", APIContentSecurityPolicy},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

// SecurityHeaders sets the hardening headers before the handler runs, so a
// handler may still override any of them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTLS rejects requests a load balancer forwarded over plain HTTP.
// Requests without X-Forwarded-Proto are let through.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto == "" || strings.EqualFold(proto, "https") {
				next.ServeHTTP(w, r)
				return
			}
			problem := models.NewTyped(models.ProblemTypeTLSRequired,
				GetRequestID(r.Context()), "This endpoint requires HTTPS")
			problem.Instance = r.URL.Path
			problem.Write(w)
		})
	}
}
