package oauth

import "time"

// Client represents a registered OAuth2/OIDC relying party.
type Client struct {
	ID                     int64
	ClientID               string
	Name                   string
	SecretHash             string
	Confidential           bool
	RedirectURI            string
	AdditionalRedirectURIs []string
	DefaultScope           string
	GroupAccess            []string
	UserAccess             []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// PendingAuthorization captures a validated-later /authorize request while the
// user completes login and consent.
type PendingAuthorization struct {
	ClientID     string
	ClientName   string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	Nonce        string
	CreatedAt    time.Time
}

// AuthorizationCode is a single-use code minted after consent.
type AuthorizationCode struct {
	ClientID          string
	RedirectURI       string
	RedirectSpecified bool
	Scope             string
	UserUUID          string
	Nonce             string
	CreatedAt         time.Time
}

// Policy maps a claim name to its default content plus per-group overrides.
type Policy struct {
	ID             int64
	Name           string
	Claim          string
	DefaultContent string
	GroupContents  []PolicyGroupContent
}

// PolicyGroupContent is the claim content a policy yields for one group.
type PolicyGroupContent struct {
	GroupUUID   string
	AccessLevel int32
	Content     string
}

// ScopeMapping binds a scope token to the policies it unlocks.
type ScopeMapping struct {
	ID       int64
	Name     string
	Policies []Policy
}
