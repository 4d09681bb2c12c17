package config

import "time"

// ProviderConfig describes the external identity provider the gateway
// delegates authentication to.
type ProviderConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURL() string
	GetScopes() []string
	GetProviderTimeout() time.Duration
	GetKeySetTTL() time.Duration
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER_URL", "")
}

func (Provider) GetClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Provider) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

func (p Provider) GetRedirectURL() string {
	return GetEnv("OIDC_REDIRECT_URL", EnvVars{}.GetBaseURL()+"/auth/callback")
}

func (Provider) GetScopes() []string {
	return []string{"openid", "profile", "email", "offline_access"}
}

// GetProviderTimeout bounds every outbound call to the provider's token and
// key-set endpoints. A timed-out call fails, it never hangs the request.
func (Provider) GetProviderTimeout() time.Duration {
	return 10 * time.Second
}

// GetKeySetTTL is how long fetched signing keys are trusted before a
// background-of-request refetch, even without a verification failure.
func (Provider) GetKeySetTTL() time.Duration {
	return 15 * time.Minute
}
