package authflowrepo

import "time"

// AuthFlowState tracks one in-progress login between the redirect to the
// provider and the callback carrying the authorization code.
type AuthFlowState struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	Delete(state string) error
}
