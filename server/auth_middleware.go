package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-auth-gateway/auth"
	"github.com/jrsteele09/go-auth-gateway/verifier"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySubject stores the authenticated user ID
	ContextKeySubject ContextKey = "subject"
	// ContextKeyClaims stores the verified token claims
	ContextKeyClaims ContextKey = "claims"
)

// RequireAuth guards a route with the full verify-then-refresh flow. The
// wrapped handler only runs for an authenticated caller, with verified
// claims on the request context.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			result := s.auth.Authenticate(r.Context(), w, r)

			switch result.Status {
			case auth.StatusAuthenticated:
				ctx := context.WithValue(r.Context(), ContextKeySubject, result.Claims.Subject)
				ctx = context.WithValue(ctx, ContextKeyClaims, result.Claims)
				next(w, r.WithContext(ctx))
			case auth.StatusUnauthenticated, auth.StatusSessionExpired:
				writeJSON(w, http.StatusUnauthorized, map[string]any{"status": result.Status.String()})
			default:
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": auth.StatusError.String()})
			}
		}
	}
}

// ClaimsFromContext returns the verified claims RequireAuth stored, if any.
func ClaimsFromContext(ctx context.Context) (*verifier.VerifiedClaims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*verifier.VerifiedClaims)
	return claims, ok
}
