package jwt

import (
	"context"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// Tier identifies how much a session token is allowed to do. Base tokens
// carry the normal session, Special tokens gate sensitive settings and are
// short-lived, TOTPRequired tokens only permit finishing the TOTP challenge.
type Tier string

const (
	TierBase         Tier = "base"
	TierSpecial      Tier = "special"
	TierTOTPRequired Tier = "totp_required"
)

// CookieName returns the cookie each tier is transported in.
func (t Tier) CookieName() string {
	switch t {
	case TierSpecial:
		return "special"
	case TierTOTPRequired:
		return "totp_required"
	default:
		return "token"
	}
}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	switch t {
	case TierBase, TierSpecial, TierTOTPRequired:
		return true
	}
	return false
}

// SessionClaims is the custom payload of session tokens.
type SessionClaims struct {
	Type Tier `json:"type"`
}

// Generator signs and validates session and OAuth tokens with the
// persisted RSA key.
type Generator struct {
	keys     *KeyManager
	issuer   string
	longTTL  time.Duration
	shortTTL time.Duration
	oauthTTL time.Duration
}

// NewGenerator constructs a JWT generator.
func NewGenerator(keys *KeyManager, issuer string, longTTL, shortTTL, oauthTTL time.Duration) *Generator {
	return &Generator{
		keys:     keys,
		issuer:   issuer,
		longTTL:  longTTL,
		shortTTL: shortTTL,
		oauthTTL: oauthTTL,
	}
}

// OAuthTTL exposes the access token lifetime for expires_in fields.
func (g *Generator) OAuthTTL() time.Duration {
	return g.oauthTTL
}

func (g *Generator) signer(ctx context.Context) (gojose.Signer, error) {
	key, err := g.keys.SigningKey(ctx)
	if err != nil {
		return nil, err
	}
	kid, err := g.keys.KeyID(ctx)
	if err != nil {
		return nil, err
	}
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.RS256, Key: key},
		(&gojose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid),
	)
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	return signer, nil
}

// GenerateSession produces a signed session token for the tier. Base
// tokens use the long TTL, Special and TOTPRequired tokens the short one.
func (g *Generator) GenerateSession(ctx context.Context, userUUID string, tier Tier) (string, time.Time, error) {
	if !tier.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown session tier %q", tier)
	}
	signer, err := g.signer(ctx)
	if err != nil {
		return "", time.Time{}, err
	}

	ttl := g.longTTL
	if tier != TierBase {
		ttl = g.shortTTL
	}

	now := time.Now().UTC()
	expiry := now.Add(ttl)
	stdClaims := gojwt.Claims{
		Subject:   userUUID,
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(expiry),
		NotBefore: gojwt.NewNumericDate(now),
	}

	token, err := gojwt.Signed(signer).Claims(stdClaims).Claims(SessionClaims{Type: tier}).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("serialize session token: %w", err)
	}
	return token, expiry, nil
}

// ValidateSession checks the signature, expiry, issuer, and tier of a
// session token and returns its claims.
func (g *Generator) ValidateSession(ctx context.Context, token string, tier Tier) (*gojwt.Claims, *SessionClaims, error) {
	key, err := g.keys.SigningKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load key: %w", err)
	}

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	var custom SessionClaims
	if err := parsed.Claims(&key.PublicKey, &std, &custom); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Issuer: g.issuer, Time: time.Now()}); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}
	if custom.Type != tier {
		return nil, nil, fmt.Errorf("token tier %q does not grant %q", custom.Type, tier)
	}

	return &std, &custom, nil
}

// GenerateAccessToken signs an OAuth access token. The extra map carries
// scope, nonce, and all policy-resolved claims.
func (g *Generator) GenerateAccessToken(ctx context.Context, userUUID, clientID string, extra map[string]any) (string, error) {
	signer, err := g.signer(ctx)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	stdClaims := gojwt.Claims{
		Subject:   userUUID,
		Audience:  gojwt.Audience{clientID},
		Issuer:    g.issuer,
		IssuedAt:  gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(g.oauthTTL)),
		NotBefore: gojwt.NewNumericDate(now),
	}

	token, err := gojwt.Signed(signer).Claims(stdClaims).Claims(extra).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize access token: %w", err)
	}
	return token, nil
}

// ValidateAccessToken verifies an OAuth token and returns both the
// standard claims and the raw claim map for userinfo echoes. Session
// tokens share the signing key but not the shape: anything carrying a
// tier claim or lacking an audience is rejected.
func (g *Generator) ValidateAccessToken(ctx context.Context, token string) (*gojwt.Claims, map[string]any, error) {
	key, err := g.keys.SigningKey(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load key: %w", err)
	}

	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return nil, nil, fmt.Errorf("parse token: %w", err)
	}

	var std gojwt.Claims
	raw := map[string]any{}
	if err := parsed.Claims(&key.PublicKey, &std, &raw); err != nil {
		return nil, nil, fmt.Errorf("verify token: %w", err)
	}

	if err := std.Validate(gojwt.Expected{Issuer: g.issuer, Time: time.Now()}); err != nil {
		return nil, nil, fmt.Errorf("validate claims: %w", err)
	}
	if _, ok := raw["type"]; ok {
		return nil, nil, fmt.Errorf("session token presented as access token")
	}
	if len(std.Audience) == 0 {
		return nil, nil, fmt.Errorf("access token missing audience")
	}

	return &std, raw, nil
}

// Expiry extracts the expiry of a token without trusting the rest of the
// payload, used when blacklisting presented tokens.
func (g *Generator) Expiry(ctx context.Context, token string) (time.Time, error) {
	key, err := g.keys.SigningKey(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load key: %w", err)
	}
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.RS256})
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	var std gojwt.Claims
	if err := parsed.Claims(&key.PublicKey, &std); err != nil {
		return time.Time{}, fmt.Errorf("verify token: %w", err)
	}
	if std.Expiry == nil {
		return time.Time{}, fmt.Errorf("token has no expiry")
	}
	return std.Expiry.Time(), nil
}
