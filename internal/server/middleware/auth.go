package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vamsdb/gatekeeper/internal/service"
)

type contextKeyAuth string

const (
	// SessionKey is the context key for the caller's authorization session.
	SessionKey contextKeyAuth = "auth_session"
)

// Authenticate returns an HTTP middleware that verifies the bearer token,
// loads the caller's policy once and attaches the resulting Session to the
// request context. Missing or invalid tokens get a 401 JSON response.
func Authenticate(verifier *service.TokenVerifier, authz *service.Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			id, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				logger.Debug("token rejected", "error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			sess, err := authz.Session(r.Context(), id)
			if err != nil {
				logger.Error("load policy", "error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}

			setRequestUser(r.Context(), id.Primary())
			ctx := context.WithValue(r.Context(), SessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize returns an HTTP middleware that runs the route-level decision
// for every request. It must be used after Authenticate in the middleware
// chain.
func Authorize(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := GetSession(r.Context())
			if sess == nil || !sess.EnforceAPI(r.Method, r.URL.Path) {
				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				}
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					attrs = append(attrs, "route", rctx.RoutePattern())
				}
				if sess != nil {
					attrs = append(attrs, "user", sess.Identity().Primary())
				}
				logger.Info("route not authorized", attrs...)
				writeAuthError(w, http.StatusForbidden, "Not Authorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetSession extracts the authorization session from the context.
// Returns nil if no session is present (i.e., unauthenticated request).
func GetSession(ctx context.Context) *service.Session {
	if s, ok := ctx.Value(SessionKey).(*service.Session); ok {
		return s
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"message":"` + message + `"}`))
}
