package service

import (
	"context"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/scope"
)

// DiscoveryService builds responses for discovery endpoints.
type DiscoveryService struct {
	keys *jwt.KeyManager
	cfg  config.Config
}

func NewDiscoveryService(keys *jwt.KeyManager, cfg config.Config) *DiscoveryService {
	return &DiscoveryService{keys: keys, cfg: cfg}
}

// OpenIDConfiguration matches the OIDC discovery document.
type OpenIDConfiguration struct {
	Issuer                           string   `json:"issuer"`
	AuthorizationEndpoint            string   `json:"authorization_endpoint"`
	TokenEndpoint                    string   `json:"token_endpoint"`
	UserinfoEndpoint                 string   `json:"userinfo_endpoint"`
	RevocationEndpoint               string   `json:"revocation_endpoint"`
	JWKSURI                          string   `json:"jwks_uri"`
	ResponseTypesSupported           []string `json:"response_types_supported"`
	GrantTypesSupported              []string `json:"grant_types_supported"`
	SubjectTypesSupported            []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                  []string `json:"scopes_supported"`
	TokenEndpointAuthMethods         []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                  []string `json:"claims_supported"`
}

// OpenIDConfigurationResponse builds the OIDC document. The configured
// issuer wins; the request host is the fallback.
func (s *DiscoveryService) OpenIDConfigurationResponse(schema, host string) OpenIDConfiguration {
	issuer := s.cfg.Issuer
	if issuer == "" {
		issuer = fmt.Sprintf("%s://%s", schema, host)
	}
	return OpenIDConfiguration{
		Issuer:                           issuer,
		AuthorizationEndpoint:            issuer + "/authorize",
		TokenEndpoint:                    issuer + "/token",
		UserinfoEndpoint:                 issuer + "/user",
		RevocationEndpoint:               issuer + "/revoke",
		JWKSURI:                          issuer + "/jwks",
		ResponseTypesSupported:           []string{"code"},
		GrantTypesSupported:              []string{"authorization_code"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		ScopesSupported:                  scope.Default().Tokens(),
		TokenEndpointAuthMethods:         []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported:                  []string{"sub", "email", "name", "preferred_username", "groups"},
	}
}

// JWKS returns the public signing keys.
func (s *DiscoveryService) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	return s.keys.JWKS(ctx)
}
