package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Session identification.
const (
	SessionHeader = "X-Session-Id"
	SessionCookie = "evac_session"
)

// sessionIDPattern bounds what a client may present as a session id.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

type sessionIDKey struct{}

// Session resolves the caller's session id from the X-Session-Id header or
// the evac_session cookie, issuing a new one when neither carries a usable id.
// The id is echoed in the response header and refreshed in the cookie.
func Session(secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(SessionHeader)
			if !sessionIDPattern.MatchString(id) {
				id = ""
				if c, err := r.Cookie(SessionCookie); err == nil && sessionIDPattern.MatchString(c.Value) {
					id = c.Value
				}
			}
			if id == "" {
				id = NewSessionID()
			}

			w.Header().Set(SessionHeader, id)
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   secureCookie,
				SameSite: http.SameSiteLaxMode,
			})

			ctx := context.WithValue(r.Context(), sessionIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewSessionID returns a fresh session id.
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}
