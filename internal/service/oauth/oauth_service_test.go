package oauth

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	"github.com/solaceid/solace/internal/jwt"
	pw "github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/policy"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/revocation"
	"github.com/solaceid/solace/internal/statestore"
)

const (
	testUserUUID = "11111111-1111-1111-1111-111111111111"
	testSecret   = "topsecret"
	testPepper   = "unit-test-pepper"
)

type fixture struct {
	svc     *Service
	clients *fakeClientRepo
	users   *fakeUserRepo
	tokens  *jwt.Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	secretHash, err := pw.Hash(testSecret, testPepper)
	require.NoError(t, err)

	clients := &fakeClientRepo{clients: map[string]domainoauth.Client{
		"public-app": {
			ClientID:     "public-app",
			Name:         "Public App",
			RedirectURI:  "https://app.example.com/callback",
			DefaultScope: "openid email profile image",
		},
		"private-app": {
			ClientID:               "private-app",
			Name:                   "Private App",
			Confidential:           true,
			SecretHash:             secretHash,
			RedirectURI:            "https://private.example.com/callback",
			AdditionalRedirectURIs: []string{"https://private.example.com/alt"},
			DefaultScope:           "openid email",
		},
	}}
	users := &fakeUserRepo{users: map[string]domain.User{
		testUserUUID: {
			UUID:  testUserUUID,
			Email: "jane@example.com",
			Name:  "Jane",
		},
	}}

	keyManager := jwt.NewKeyManager(&fakeKeyRepo{})
	generator := jwt.NewGenerator(keyManager, "https://id.example.com", time.Hour, 5*time.Minute, 10*time.Minute)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	registry := revocation.NewRegistry(&fakeRevocationRepo{tokens: map[string]domain.RevokedToken{}}, node, 1000, zap.NewNop())

	cfg := config.Config{
		FrontendURL:    "https://id.example.com",
		PendingAuthTTL: 10 * time.Minute,
		AuthPepper:     testPepper,
	}
	svc := NewService(
		clients,
		users,
		policy.NewResolver(&fakePolicyRepo{}),
		generator,
		registry,
		statestore.NewMemory[domainoauth.PendingAuthorization](),
		statestore.NewMemory[domainoauth.AuthorizationCode](),
		cfg,
		zap.NewNop(),
	)
	return &fixture{svc: svc, clients: clients, users: users, tokens: generator}
}

// runAuthorize drives authorize plus consent and returns the issued code.
func runAuthorize(t *testing.T, f *fixture, req AuthorizeRequest) string {
	t.Helper()
	ctx := context.Background()

	location, err := f.svc.StartAuthorization(ctx, req)
	require.NoError(t, err)
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	pendingCode := parsed.Query().Get("code")
	require.NotEmpty(t, pendingCode)

	redirect, err := f.svc.ConfirmAuthorization(ctx, testUserUUID, pendingCode, true)
	require.NoError(t, err)
	redirectURL, err := url.Parse(redirect)
	require.NoError(t, err)
	require.Empty(t, redirectURL.Query().Get("error"), "unexpected redirect error: %s", redirect)
	code := redirectURL.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func basicAuth(id, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(id+":"+secret))
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := runAuthorize(t, f, AuthorizeRequest{
		ClientID:     "public-app",
		ResponseType: "code",
		Scope:        "openid email",
		State:        "xyz",
	})

	response, err := f.svc.Exchange(ctx, TokenRequest{
		GrantType: "authorization_code",
		Code:      code,
		ClientID:  "public-app",
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer", response.TokenType)
	require.EqualValues(t, 600, response.ExpiresIn)
	require.Equal(t, "openid email", response.Scope)
	require.Equal(t, response.AccessToken, response.IDToken)

	info, err := f.svc.UserInfo(ctx, response.AccessToken)
	require.NoError(t, err)
	require.Equal(t, testUserUUID, info["sub"])
	require.Equal(t, "jane@example.com", info["email"])
	require.NotContains(t, info, "name")
}

func TestAuthorizationCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := runAuthorize(t, f, AuthorizeRequest{ClientID: "public-app", ResponseType: "code"})
	req := TokenRequest{GrantType: "authorization_code", Code: code, ClientID: "public-app"}

	_, err := f.svc.Exchange(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Exchange(ctx, req)
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidGrant, oauthErr.Code)
}

func TestExchangeWrongClient(t *testing.T) {
	f := newFixture(t)

	code := runAuthorize(t, f, AuthorizeRequest{ClientID: "public-app", ResponseType: "code"})
	_, err := f.svc.Exchange(context.Background(), TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     "private-app",
		ClientSecret: testSecret,
	})
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidClient, oauthErr.Code)
}

func TestExchangeUnsupportedGrantType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Exchange(context.Background(), TokenRequest{
		GrantType: "client_credentials",
		ClientID:  "public-app",
	})
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeUnsupportedGrant, oauthErr.Code)
}

func TestConfidentialClientAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := runAuthorize(t, f, AuthorizeRequest{ClientID: "private-app", ResponseType: "code"})

	_, err := f.svc.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     "private-app",
		ClientSecret: "wrong",
	})
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidClient, oauthErr.Code)

	// Basic credentials win over the form and the code survives until a
	// correctly authenticated exchange consumes it.
	response, err := f.svc.Exchange(ctx, TokenRequest{
		GrantType:   "authorization_code",
		Code:        code,
		AuthHeaders: []string{basicAuth("private-app", testSecret)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, response.AccessToken)
}

func TestExchangeRejectsDuplicateAuthHeaders(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Exchange(context.Background(), TokenRequest{
		GrantType:   "authorization_code",
		AuthHeaders: []string{basicAuth("a", "b"), basicAuth("c", "d")},
	})
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidRequest, oauthErr.Code)
}

func TestScopeIntersection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// private-app only issues openid and email.
	code := runAuthorize(t, f, AuthorizeRequest{
		ClientID:     "private-app",
		ResponseType: "code",
		Scope:        "email profile",
	})
	response, err := f.svc.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		ClientID:     "private-app",
		ClientSecret: testSecret,
	})
	require.NoError(t, err)
	require.Equal(t, "email", response.Scope)
	require.Empty(t, response.IDToken)
}

func TestEmptyScopeIntersectionRedirectsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	location, err := f.svc.StartAuthorization(ctx, AuthorizeRequest{
		ClientID:     "private-app",
		ResponseType: "code",
		Scope:        "profile image",
		State:        "s1",
	})
	require.NoError(t, err)
	pendingCode := mustQuery(t, location, "code")

	redirect, err := f.svc.ConfirmAuthorization(ctx, testUserUUID, pendingCode, true)
	require.NoError(t, err)
	require.Equal(t, "invalid_scope", mustQuery(t, redirect, "error"))
	require.Equal(t, "s1", mustQuery(t, redirect, "state"))
	require.True(t, strings.HasPrefix(redirect, "https://private.example.com/callback"))
}

func TestConsentDenialReturnsEmptyLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	location, err := f.svc.StartAuthorization(ctx, AuthorizeRequest{ClientID: "public-app", ResponseType: "code"})
	require.NoError(t, err)
	pendingCode := mustQuery(t, location, "code")

	redirect, err := f.svc.ConfirmAuthorization(ctx, testUserUUID, pendingCode, false)
	require.NoError(t, err)
	require.Empty(t, redirect)

	// The pending authorization is consumed either way.
	_, err = f.svc.ConfirmAuthorization(ctx, testUserUUID, pendingCode, true)
	require.Error(t, err)
}

func TestConfirmRejectsUnregisteredRedirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	location, err := f.svc.StartAuthorization(ctx, AuthorizeRequest{
		ClientID:     "public-app",
		ResponseType: "code",
		RedirectURI:  "https://evil.example.com/steal",
	})
	require.NoError(t, err)
	pendingCode := mustQuery(t, location, "code")

	_, err = f.svc.ConfirmAuthorization(ctx, testUserUUID, pendingCode, true)
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidRequest, oauthErr.Code)
}

func TestExchangeRedirectMustMatchWhenSpecified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := runAuthorize(t, f, AuthorizeRequest{
		ClientID:     "private-app",
		ResponseType: "code",
		RedirectURI:  "https://private.example.com/alt",
	})
	_, err := f.svc.Exchange(ctx, TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://private.example.com/callback",
		ClientID:     "private-app",
		ClientSecret: testSecret,
	})
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidRequest, oauthErr.Code)
}

func TestConfirmRejectsUserWithoutAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clients.denyUser = true

	location, err := f.svc.StartAuthorization(ctx, AuthorizeRequest{ClientID: "public-app", ResponseType: "code"})
	require.NoError(t, err)
	pendingCode := mustQuery(t, location, "code")

	_, err = f.svc.ConfirmAuthorization(ctx, testUserUUID, pendingCode, true)
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeUnauthorizedClient, oauthErr.Code)
}

func TestRevokedTokenFailsUserInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := runAuthorize(t, f, AuthorizeRequest{ClientID: "public-app", ResponseType: "code"})
	response, err := f.svc.Exchange(ctx, TokenRequest{
		GrantType: "authorization_code",
		Code:      code,
		ClientID:  "public-app",
	})
	require.NoError(t, err)

	err = f.svc.Revoke(ctx, TokenRequest{ClientID: "public-app"}, response.AccessToken)
	require.NoError(t, err)

	_, err = f.svc.UserInfo(ctx, response.AccessToken)
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidGrant, oauthErr.Code)
}

func TestSessionTokenRejectedAtUserInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Signed by the same key as access tokens, but session-shaped.
	sessionToken, _, err := f.tokens.GenerateSession(ctx, testUserUUID, jwt.TierBase)
	require.NoError(t, err)

	_, err = f.svc.UserInfo(ctx, sessionToken)
	var oauthErr *domainoauth.Error
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, domainoauth.ErrCodeInvalidGrant, oauthErr.Code)
}

func mustQuery(t *testing.T, rawURL, key string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	require.NoError(t, err)
	return parsed.Query().Get(key)
}

type fakeClientRepo struct {
	clients  map[string]domainoauth.Client
	denyUser bool
}

var _ repository.ClientRepository = (*fakeClientRepo)(nil)

func (r *fakeClientRepo) GetByClientID(ctx context.Context, clientID string) (domainoauth.Client, error) {
	client, ok := r.clients[clientID]
	if !ok {
		return domainoauth.Client{}, pgx.ErrNoRows
	}
	return client, nil
}

func (r *fakeClientRepo) List(ctx context.Context) ([]domainoauth.Client, error) {
	out := make([]domainoauth.Client, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, client)
	}
	return out, nil
}

func (r *fakeClientRepo) Create(ctx context.Context, client domainoauth.Client) (domainoauth.Client, error) {
	r.clients[client.ClientID] = client
	return client, nil
}

func (r *fakeClientRepo) Update(ctx context.Context, client domainoauth.Client) error {
	r.clients[client.ClientID] = client
	return nil
}

func (r *fakeClientRepo) Delete(ctx context.Context, clientID string) error {
	delete(r.clients, clientID)
	return nil
}

func (r *fakeClientRepo) AllowsUser(ctx context.Context, clientID, userUUID string) (bool, error) {
	return !r.denyUser, nil
}

type fakeUserRepo struct {
	users map[string]domain.User
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByUUID(ctx context.Context, uuid string) (domain.User, error) {
	user, ok := r.users[uuid]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (r *fakeUserRepo) List(ctx context.Context) ([]domain.User, error) {
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, nil
}

func (r *fakeUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.users[user.UUID] = user
	return user, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user domain.User) error {
	r.users[user.UUID] = user
	return nil
}

func (r *fakeUserRepo) UpdatePasswordHash(ctx context.Context, uuid, hash string) error {
	user := r.users[uuid]
	user.PasswordHash = hash
	r.users[uuid] = user
	return nil
}

func (r *fakeUserRepo) UpdateTOTP(ctx context.Context, uuid, secret string, created, lastUsed *time.Time) error {
	user := r.users[uuid]
	user.TOTPSecret = secret
	user.TOTPCreated = created
	user.TOTPLastUsed = lastUsed
	r.users[uuid] = user
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(ctx context.Context, uuid string, at time.Time) error {
	user := r.users[uuid]
	user.LastLogin = at
	r.users[uuid] = user
	return nil
}

func (r *fakeUserRepo) UpdateLastSpecialAccess(ctx context.Context, uuid string, at time.Time) error {
	user := r.users[uuid]
	user.LastSpecialAccess = at
	r.users[uuid] = user
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, uuid string) error {
	delete(r.users, uuid)
	return nil
}

func (r *fakeUserRepo) GroupsOf(ctx context.Context, uuid string) ([]domain.Group, error) {
	return nil, nil
}

type fakePolicyRepo struct{}

var _ repository.PolicyRepository = (*fakePolicyRepo)(nil)

func (r *fakePolicyRepo) GetScopeMapping(ctx context.Context, name string) (domainoauth.ScopeMapping, error) {
	return domainoauth.ScopeMapping{}, pgx.ErrNoRows
}

type fakeRevocationRepo struct {
	tokens map[string]domain.RevokedToken
}

var _ repository.RevocationRepository = (*fakeRevocationRepo)(nil)

func (r *fakeRevocationRepo) Insert(ctx context.Context, token domain.RevokedToken) error {
	r.tokens[token.Token] = token
	return nil
}

func (r *fakeRevocationRepo) Exists(ctx context.Context, token string) (bool, error) {
	_, ok := r.tokens[token]
	return ok, nil
}

func (r *fakeRevocationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for key, record := range r.tokens {
		if record.ExpiresAt.Before(now) {
			delete(r.tokens, key)
			removed++
		}
	}
	return removed, nil
}

type fakeKeyRepo struct {
	key *domain.SigningKey
}

var _ repository.KeyRepository = (*fakeKeyRepo)(nil)

func (r *fakeKeyRepo) GetByName(ctx context.Context, name string) (domain.SigningKey, error) {
	if r.key == nil || r.key.Name != name {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return *r.key, nil
}

func (r *fakeKeyRepo) Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	key.ID = 1
	r.key = &key
	return key, nil
}
