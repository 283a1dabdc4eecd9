package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/internal/observability"
)

// ContextKey type for context keys to avoid collisions
type ContextKey string

// ClaimsKey is the context key for JWT claims
const ClaimsKey ContextKey = "jwt_claims"

// Middleware provides HTTP middleware functions
type Middleware struct {
	jwtAuth *JWTAuth
	logger  zerolog.Logger
	nodeID  string
	noAuth  bool // Development mode: bypass authentication for read endpoints
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(jwtAuth *JWTAuth, logger zerolog.Logger, nodeID string, noAuth bool) *Middleware {
	return &Middleware{
		jwtAuth: jwtAuth,
		logger:  logger,
		nodeID:  nodeID,
		noAuth:  noAuth,
	}
}

// AuthRequired middleware requires a valid token with the read scope
func (m *Middleware) AuthRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.noAuth {
			claims := &JWTClaims{ClientID: "dev-client", Scopes: []string{ScopeRead}}
			next(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
			return
		}
		m.requireScope(ScopeRead, next)(w, r)
	}
}

// AdminRequired middleware requires the admin scope.
// Admin endpoints are never bypassed, even in no-auth mode.
func (m *Middleware) AdminRequired(next http.HandlerFunc) http.HandlerFunc {
	return m.requireScope(ScopeAdmin, next)
}

func (m *Middleware) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := m.extractToken(r)
		if token == "" {
			writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.jwtAuth.ValidateToken(token)
		if err != nil {
			writeError(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}
		if !claims.HasScope(scope) && !claims.HasScope(ScopeAdmin) {
			writeError(w, "Scope "+scope+" required", http.StatusForbidden)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	}
}

// ContentType middleware sets the content type to JSON
func (m *Middleware) ContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Logging middleware logs and counts HTTP requests. pattern is the route,
// used as the metric label instead of the raw path.
func (m *Middleware) Logging(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		event := m.logger.Debug()
		if rec.status >= 500 {
			event = m.logger.Error()
		} else if rec.status >= 400 {
			event = m.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("http_request")

		observability.RecordHTTPRequest(m.nodeID, r.Method, pattern, rec.status, duration)
	})
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error().Interface("panic", err).Str("path", r.URL.Path).Msg("Handler panicked")
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the JWT token from the Authorization header
func (m *Middleware) extractToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// GetClaims extracts the JWT claims from the request context
func GetClaims(r *http.Request) *JWTClaims {
	if claims, ok := r.Context().Value(ClaimsKey).(*JWTClaims); ok {
		return claims
	}
	return nil
}
