package http

import (
	"context"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "cart_session"

	sessionCookieMaxAge = 30 * 24 * 60 * 60
)

type contextKey string

const sessionIDKey contextKey = "session_id"

// session ids become store keys, so only short opaque tokens are accepted
var validSessionID = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// SessionMiddleware resolves the shopper session from the X-Session-ID header
// or the cart_session cookie. A request with neither gets a fresh id, echoed
// back in both places so the client can keep using it. Malformed ids are
// rejected with 400.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(SessionHeader)
		if sessionID == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				sessionID = c.Value
			}
		}
		if sessionID != "" && !validSessionID.MatchString(sessionID) {
			respondError(w, http.StatusBadRequest, "invalid_session", "session id must be 1-64 letters, digits or dashes")
			return
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    sessionID,
				Path:     "/",
				MaxAge:   sessionCookieMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		w.Header().Set(SessionHeader, sessionID)
		ctx := context.WithValue(r.Context(), sessionIDKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EchoRequestID returns the id assigned by chi's middleware.RequestID in the
// X-Request-ID response header. It must run after middleware.RequestID.
func EchoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func getSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

func getRequestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
