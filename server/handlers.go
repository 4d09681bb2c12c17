package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-gateway/auth"
	autherrors "github.com/jrsteele09/go-auth-gateway/internal/errors"
	"github.com/jrsteele09/go-auth-gateway/server/authflowrepo"
)

const contentTypeJSON = "application/json; charset=utf-8"

// stateMaxAge bounds how long a login attempt may sit between the
// redirect to the provider and the callback carrying the code.
const stateMaxAge = 15 * time.Minute

// LoginRedirectHandler starts the delegated login: it records a one-time
// state value with a PKCE verifier and nonce, then sends the browser to
// the provider's authorization page.
func (s *Server) LoginRedirectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := uuid.New().String()
		codeVerifier := generateRandomString(32)
		nonce := generateRandomString(16)

		flowState := &authflowrepo.AuthFlowState{
			CodeVerifier: codeVerifier,
			Nonce:        nonce,
			ReturnURL:    sanitizeReturnURL(r.URL.Query().Get("return_to")),
			CreatedAt:    time.Now(),
		}
		if err := s.authState.Upsert(state, flowState); err != nil {
			s.log.Error().Err(err).Msg("failed to store auth flow state")
			http.Error(w, "Unable to start login", http.StatusInternalServerError)
			return
		}

		authURL := s.provider.AuthCodeURL(state,
			oauth2.SetAuthURLParam("code_challenge", generateCodeChallenge(codeVerifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
			oauth2.SetAuthURLParam("nonce", nonce),
		)
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// OAuthCallbackHandler receives the provider's redirect, validates the
// CSRF state, and hands the one-time code to the auth service.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")

		// The provider reported a failed or denied authorization. Its
		// error detail stays in the logs, not the response.
		if errorParam != "" {
			s.log.Warn().Str("error", errorParam).Msg("provider reported authorization failure")
			http.Error(w, "Authorization failed", http.StatusBadRequest)
			return
		}

		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		authState, err := s.authState.Get(state)
		if err != nil || authState == nil {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		// State is single-use
		if err := s.authState.Delete(state); err != nil {
			http.Error(w, "Invalid state parameter", http.StatusInternalServerError)
			return
		}

		if time.Since(authState.CreatedAt) > stateMaxAge {
			http.Error(w, "Login attempt expired", http.StatusBadRequest)
			return
		}

		claims, err := s.auth.Login(r.Context(), w, code, authState.CodeVerifier, authState.Nonce)
		if err != nil {
			s.log.Warn().Err(autherrors.Kind(err)).Msg("login failed")
			http.Error(w, loginFailureMessage(err), loginFailureStatus(err))
			return
		}

		s.log.Debug().Str("subject", claims.Subject).Msg("callback completed")

		returnURL := authState.ReturnURL
		if returnURL == "" {
			returnURL = "/"
		}
		http.Redirect(w, r, returnURL, http.StatusSeeOther)
	}
}

// LogoutHandler tears down the session and clears the cookie.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Logout(r.Context(), w, r); err != nil {
			s.log.Warn().Err(autherrors.Kind(err)).Msg("logout failed to delete session")
			http.Error(w, "Logout failed", http.StatusServiceUnavailable)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// SessionHandler reports the caller's authentication state as JSON. The
// response derives solely from the Result enumeration.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := s.auth.Authenticate(r.Context(), w, r)

		switch result.Status {
		case auth.StatusAuthenticated:
			writeJSON(w, http.StatusOK, map[string]any{
				"status":     result.Status.String(),
				"subject":    result.Claims.Subject,
				"expires_at": result.Claims.ExpiresAt.UTC().Format(time.RFC3339),
			})
		case auth.StatusUnauthenticated, auth.StatusSessionExpired:
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"status": result.Status.String(),
			})
		default:
			s.log.Error().Err(autherrors.Kind(result.Err)).Msg("authentication check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": auth.StatusError.String(),
			})
		}
	}
}

// MeHandler returns the verified claims RequireAuth placed on the context.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": auth.StatusUnauthenticated.String()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subject":    claims.Subject,
			"issuer":     claims.Issuer,
			"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// loginFailureStatus maps auth error kinds to HTTP statuses without
// leaking provider detail.
func loginFailureStatus(err error) int {
	switch autherrors.Kind(err) {
	case autherrors.ErrInvalidRequest:
		return http.StatusBadRequest
	case autherrors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func loginFailureMessage(err error) string {
	switch autherrors.Kind(err) {
	case autherrors.ErrInvalidRequest:
		return "Invalid login request"
	case autherrors.ErrUnavailable:
		return "Identity provider unavailable"
	default:
		return "Authentication failed"
	}
}

// sanitizeReturnURL keeps the post-login redirect on this site.
func sanitizeReturnURL(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.IsAbs() || parsed.Host != "" || !strings.HasPrefix(parsed.Path, "/") {
		return ""
	}
	return parsed.String()
}
