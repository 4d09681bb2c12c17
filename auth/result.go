package auth

import "github.com/jrsteele09/go-auth-gateway/verifier"

// Status is the caller-facing outcome of an authentication check. The
// HTTP layer decides rendering from this enumeration alone.
type Status int

const (
	StatusAuthenticated Status = iota
	StatusUnauthenticated
	StatusSessionExpired
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusSessionExpired:
		return "session_expired"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result carries the status plus verified claims when authenticated. Err
// holds the underlying failure for logging; it is never rendered to the
// end user.
type Result struct {
	Status Status
	Claims *verifier.VerifiedClaims
	Err    error
}

func authenticated(claims *verifier.VerifiedClaims) Result {
	return Result{Status: StatusAuthenticated, Claims: claims}
}

func unauthenticated(err error) Result {
	return Result{Status: StatusUnauthenticated, Err: err}
}

func sessionExpired(err error) Result {
	return Result{Status: StatusSessionExpired, Err: err}
}

func failure(err error) Result {
	return Result{Status: StatusError, Err: err}
}
