package sessions

import "time"

// TokenPair is the authoritative token record for one subject. At most one
// pair exists per subject; a refresh replaces it atomically via the
// version-checked Put on the Repo.
type TokenPair struct {
	Subject      string    // User id the provider asserted (sub claim)
	AccessToken  string    // Short-lived JWT presented to APIs
	RefreshToken string    // Long-lived, may rotate on every refresh
	ExpiresAt    time.Time // Access token expiry
	Version      int64     // Incremented on every write, used for CAS
}

// Expired reports whether the access token is past its expiry at the
// given instant.
func (p *TokenPair) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
