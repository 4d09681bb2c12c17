package errors

import (
	"errors"
	"fmt"
)

// Common error kinds for the auth gateway. Every component returns one of
// these sentinels (usually wrapped) so callers can branch on failure kind
// with errors.Is instead of string matching.
var (
	// Request / token parsing errors
	ErrInvalidRequest   = errors.New("invalid request")
	ErrMalformed        = errors.New("malformed token or cookie")
	ErrMissingCookie    = errors.New("missing session cookie")
	ErrUnknownKey       = errors.New("unknown signing key")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrExpiredToken     = errors.New("token expired")

	// Provider / storage errors
	ErrProviderRejected = errors.New("rejected by identity provider")
	ErrVersionConflict  = errors.New("session version conflict")
	ErrUnavailable      = errors.New("provider or storage unavailable")
	ErrNotFound         = errors.New("not found")

	// Session lifecycle errors
	ErrSessionExpired = errors.New("session expired")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Kind returns the sentinel in err's chain, or nil if err carries none.
// Lets handlers log the failure class without leaking wrapped detail.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidRequest,
		ErrMalformed,
		ErrMissingCookie,
		ErrUnknownKey,
		ErrInvalidSignature,
		ErrInvalidClaims,
		ErrExpiredToken,
		ErrProviderRejected,
		ErrVersionConflict,
		ErrUnavailable,
		ErrNotFound,
		ErrSessionExpired,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
