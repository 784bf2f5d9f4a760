package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tably/call-service/internal/store"
)

type authContextKey struct{}

// AuthMiddleware resolves the session for every non-public request and stows
// it in the request context. Call creation stays public so guests can ring
// without logging in.
func AuthMiddleware(st store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := st.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, requestIDFromRequest(r), http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return store.Session{}, false
	}
	session, ok := value.(store.Session)
	if !ok {
		return store.Session{}, false
	}
	return session, true
}

func requireSession(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return store.Session{}, false
	}
	return session, true
}

func requireWaiter(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	session, ok := requireSession(w, r)
	if !ok {
		return store.Session{}, false
	}
	if session.Role != store.RoleWaiter || session.WaiterID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "waiter session required")
		return store.Session{}, false
	}
	return session, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (store.Session, bool) {
	session, ok := requireSession(w, r)
	if !ok {
		return store.Session{}, false
	}
	if session.Role != store.RoleAdmin {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "admin session required")
		return store.Session{}, false
	}
	return session, true
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/calls":
		return r.Method == http.MethodPost
	default:
		return r.Method == http.MethodOptions
	}
}
