package config

import "time"

// SessionConfig covers the cookie transport and refresh coordination.
type SessionConfig interface {
	GetCookieName() string
	GetCookieDomain() string
	GetCookieSecret() string
	GetMaxSessionAge() time.Duration
	GetRefreshJoinTimeout() time.Duration
	GetClockSkew() time.Duration
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetCookieName() string {
	return GetEnv("SESSION_COOKIE_NAME", "gateway_session")
}

func (Session) GetCookieDomain() string {
	return GetEnv("SESSION_COOKIE_DOMAIN", "")
}

// GetCookieSecret is the HMAC key for signing cookie values. Must be set in
// production; the default only exists so DEV starts without setup.
func (Session) GetCookieSecret() string {
	return GetEnv("SESSION_COOKIE_SECRET", "dev-only-cookie-secret-change-me")
}

func (Session) GetMaxSessionAge() time.Duration {
	return 30 * 24 * time.Hour // Bounded by the refresh token's real lifetime
}

// GetRefreshJoinTimeout bounds how long a request waits on another
// request's in-flight refresh for the same subject.
func (Session) GetRefreshJoinTimeout() time.Duration {
	return 10 * time.Second
}

func (Session) GetClockSkew() time.Duration {
	return 60 * time.Second
}
