package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
	"github.com/solaceid/solace/internal/jwt"
	pw "github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/policy"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/revocation"
	"github.com/solaceid/solace/internal/scope"
	"github.com/solaceid/solace/internal/statestore"
)

// AuthorizeRequest is the inbound /authorize query.
type AuthorizeRequest struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	Nonce        string
}

// TokenRequest is the inbound /token form together with every
// Authorization header seen on the request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	AuthHeaders  []string
}

// TokenResponse is the /token success body.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	IDToken     string `json:"id_token,omitempty"`
}

// Service implements the authorization code flow with OIDC claims.
type Service struct {
	clients     repository.ClientRepository
	users       repository.UserRepository
	policies    *policy.Resolver
	jwt         *jwt.Generator
	revocations *revocation.Registry
	pending     statestore.Store[domainoauth.PendingAuthorization]
	codes       statestore.Store[domainoauth.AuthorizationCode]
	cfg         config.Config
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewService(
	clients repository.ClientRepository,
	users repository.UserRepository,
	policies *policy.Resolver,
	generator *jwt.Generator,
	revocations *revocation.Registry,
	pending statestore.Store[domainoauth.PendingAuthorization],
	codes statestore.Store[domainoauth.AuthorizationCode],
	cfg config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		clients:     clients,
		users:       users,
		policies:    policies,
		jwt:         generator,
		revocations: revocations,
		pending:     pending,
		codes:       codes,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("github.com/solaceid/solace/internal/service/oauth"),
	}
}

// StartAuthorization parks the request and sends the browser to the
// login frontend. The client must exist before anything is stored; an
// unknown client never produces a redirect.
func (s *Service) StartAuthorization(ctx context.Context, req AuthorizeRequest) (string, error) {
	ctx, span := s.startSpan(ctx, "oauth.StartAuthorization")
	defer span.End()

	if req.ClientID == "" {
		return "", domainoauth.NewError(domainoauth.ErrCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
	}
	client, err := s.clients.GetByClientID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "unknown client", http.StatusBadRequest)
		}
		return "", fmt.Errorf("load client: %w", err)
	}

	code := uuid.NewString()
	record := domainoauth.PendingAuthorization{
		ClientID:     client.ClientID,
		ClientName:   client.Name,
		ResponseType: req.ResponseType,
		RedirectURI:  req.RedirectURI,
		Scope:        req.Scope,
		State:        req.State,
		Nonce:        req.Nonce,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.pending.Put(ctx, code, record, s.cfg.PendingAuthTTL); err != nil {
		return "", fmt.Errorf("store pending authorization: %w", err)
	}

	location := fmt.Sprintf("%s/authorize?code=%s&name=%s",
		strings.TrimRight(s.cfg.FrontendURL, "/"), code, url.QueryEscape(client.Name))
	s.audit("oauth.authorize.started", "client", client.ClientID)
	return location, nil
}

// PendingInfo exposes the client name and scope of a pending
// authorization so the consent page can render it.
func (s *Service) PendingInfo(ctx context.Context, code string) (*domainoauth.PendingAuthorization, error) {
	record, err := s.pending.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load pending authorization: %w", err)
	}
	if record == nil {
		return nil, domainoauth.NewError(domainoauth.ErrCodeInvalidRequest, "authorization expired or unknown", http.StatusBadRequest)
	}
	return record, nil
}

// ConfirmAuthorization resolves consent for a logged-in user. A denial
// returns an empty location. Validation failures that happen after the
// redirect URI is pinned are delivered as redirect-embedded errors.
func (s *Service) ConfirmAuthorization(ctx context.Context, userUUID, code string, allow bool) (string, error) {
	ctx, span := s.startSpan(ctx, "oauth.ConfirmAuthorization")
	defer span.End()

	pending, err := s.pending.Take(ctx, code)
	if err != nil {
		return "", fmt.Errorf("load pending authorization: %w", err)
	}
	if pending == nil {
		return "", domainoauth.NewError(domainoauth.ErrCodeInvalidRequest, "authorization expired or unknown", http.StatusBadRequest)
	}
	if !allow {
		s.audit("oauth.authorize.denied", "client", pending.ClientID, "user", userUUID)
		return "", nil
	}

	client, err := s.clients.GetByClientID(ctx, pending.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "unknown client", http.StatusBadRequest)
		}
		return "", fmt.Errorf("load client: %w", err)
	}
	allowed, err := s.clients.AllowsUser(ctx, client.ClientID, userUUID)
	if err != nil {
		return "", fmt.Errorf("check client access: %w", err)
	}
	if !allowed {
		return "", domainoauth.NewError(domainoauth.ErrCodeUnauthorizedClient, "user has no access to this client", http.StatusUnauthorized)
	}

	redirectURI, specified, err := resolveRedirect(client, pending.RedirectURI)
	if err != nil {
		return "", err
	}

	if pending.ResponseType != "code" {
		return redirectError(redirectURI, pending.State, domainoauth.ErrCodeUnsupportedResponse, "only response_type=code is supported"), nil
	}

	granted, ok := grantScope(client, pending.Scope)
	if !ok {
		return redirectError(redirectURI, pending.State, domainoauth.ErrCodeInvalidScope, "no requested scope is available"), nil
	}

	grant := uuid.NewString()
	record := domainoauth.AuthorizationCode{
		ClientID:          client.ClientID,
		RedirectURI:       redirectURI,
		RedirectSpecified: specified,
		Scope:             granted.String(),
		UserUUID:          userUUID,
		Nonce:             pending.Nonce,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.codes.Put(ctx, grant, record, s.cfg.PendingAuthTTL); err != nil {
		return "", fmt.Errorf("store authorization code: %w", err)
	}

	query := url.Values{"code": {grant}}
	if pending.State != "" {
		query.Set("state", pending.State)
	}
	s.audit("oauth.authorize.granted", "client", client.ClientID, "user", userUUID, "scope", granted.String())
	return appendQuery(redirectURI, query), nil
}

// Exchange turns a single-use authorization code into tokens. Client
// authentication always runs first so a bad client learns nothing about
// the code.
func (s *Service) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	ctx, span := s.startSpan(ctx, "oauth.Exchange")
	defer span.End()

	client, err := s.authenticateClient(ctx, req.AuthHeaders, req.ClientID, req.ClientSecret)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if req.GrantType != "authorization_code" {
		return nil, domainoauth.NewError(domainoauth.ErrCodeUnsupportedGrant, "only authorization_code is supported", http.StatusBadRequest)
	}

	code, err := s.codes.Take(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("load authorization code: %w", err)
	}
	if code == nil {
		return nil, domainoauth.NewError(domainoauth.ErrCodeInvalidGrant, "authorization code is invalid or expired", http.StatusBadRequest)
	}
	if code.ClientID != client.ClientID {
		return nil, domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "authorization code was issued to another client", http.StatusBadRequest)
	}
	if code.RedirectSpecified && req.RedirectURI != code.RedirectURI {
		return nil, domainoauth.NewError(domainoauth.ErrCodeInvalidRequest, "redirect_uri does not match the authorization request", http.StatusBadRequest)
	}

	user, err := s.users.GetByUUID(ctx, code.UserUUID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	groups, err := s.users.GroupsOf(ctx, code.UserUUID)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}

	granted := scope.Parse(code.Scope)
	claims, err := s.policies.Resolve(ctx, user, groups, granted)
	if err != nil {
		return nil, fmt.Errorf("resolve claims: %w", err)
	}
	claims["scope"] = granted.String()
	if code.Nonce != "" {
		claims["nonce"] = code.Nonce
	}

	accessToken, err := s.jwt.GenerateAccessToken(ctx, user.UUID, client.ClientID, claims)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	response := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwt.OAuthTTL().Seconds()),
		Scope:       granted.String(),
	}
	if granted.Contains("openid") {
		response.IDToken = accessToken
	}
	s.audit("oauth.token.issued", "client", client.ClientID, "user", user.UUID, "scope", granted.String())
	return response, nil
}

// Revoke blacklists an access token until its own expiry. The caller
// must authenticate as the client the usual way.
func (s *Service) Revoke(ctx context.Context, req TokenRequest, token string) error {
	ctx, span := s.startSpan(ctx, "oauth.Revoke")
	defer span.End()

	client, err := s.authenticateClient(ctx, req.AuthHeaders, req.ClientID, req.ClientSecret)
	if err != nil {
		span.RecordError(err)
		return err
	}

	expiry, err := s.jwt.Expiry(ctx, token)
	if err != nil {
		// Per RFC 7009 an unknown token is not an error.
		return nil
	}
	if err := s.revocations.Revoke(ctx, token, expiry); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.audit("oauth.token.revoked", "client", client.ClientID)
	return nil
}

// UserInfo validates a bearer access token and echoes its claims.
func (s *Service) UserInfo(ctx context.Context, token string) (map[string]any, error) {
	ctx, span := s.startSpan(ctx, "oauth.UserInfo")
	defer span.End()

	revoked, err := s.revocations.IsRevoked(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, domainoauth.NewError(domainoauth.ErrCodeInvalidGrant, "token has been revoked", http.StatusUnauthorized)
	}
	std, extra, err := s.jwt.ValidateAccessToken(ctx, token)
	if err != nil {
		return nil, domainoauth.NewError(domainoauth.ErrCodeInvalidGrant, "token is invalid or expired", http.StatusUnauthorized)
	}

	info := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		info[k] = v
	}
	info["sub"] = std.Subject
	return info, nil
}

// authenticateClient resolves client credentials with Basic taking
// precedence over form fields. More than one Authorization header is
// rejected outright.
func (s *Service) authenticateClient(ctx context.Context, authHeaders []string, formID, formSecret string) (domainoauth.Client, error) {
	if len(authHeaders) > 1 {
		return domainoauth.Client{}, domainoauth.NewError(domainoauth.ErrCodeInvalidRequest, "multiple Authorization headers", http.StatusBadRequest)
	}

	clientID, clientSecret := formID, formSecret
	if len(authHeaders) == 1 && authHeaders[0] != "" {
		id, secret, err := parseBasicAuth(authHeaders[0])
		if err != nil {
			return domainoauth.Client{}, domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "malformed Authorization header", http.StatusUnauthorized)
		}
		clientID, clientSecret = id, secret
	}
	if clientID == "" {
		return domainoauth.Client{}, domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "client credentials are required", http.StatusUnauthorized)
	}

	client, err := s.clients.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainoauth.Client{}, domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "unknown client", http.StatusUnauthorized)
		}
		return domainoauth.Client{}, fmt.Errorf("load client: %w", err)
	}
	if !client.Confidential {
		return client, nil
	}

	valid, err := pw.Verify(clientSecret, s.cfg.AuthPepper, client.SecretHash)
	if err != nil || !valid {
		return domainoauth.Client{}, domainoauth.NewError(domainoauth.ErrCodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
	}
	return client, nil
}

// resolveRedirect pins the redirect URI. A requested URI must exactly
// match one of the registered URIs; absence falls back to the primary.
func resolveRedirect(client domainoauth.Client, requested string) (string, bool, error) {
	if requested == "" {
		return client.RedirectURI, false, nil
	}
	if requested == client.RedirectURI {
		return requested, true, nil
	}
	for _, u := range client.AdditionalRedirectURIs {
		if requested == u {
			return requested, true, nil
		}
	}
	return "", false, domainoauth.NewError(domainoauth.ErrCodeInvalidRequest, "redirect_uri is not registered for this client", http.StatusBadRequest)
}

// grantScope intersects the request with what the client may issue. An
// absent request grants the client's full default set.
func grantScope(client domainoauth.Client, requested string) (scope.Scope, bool) {
	available := scope.Parse(client.DefaultScope)
	if available.IsEmpty() {
		available = scope.Default()
	}
	req := scope.Parse(requested)
	if req.IsEmpty() {
		return available, true
	}
	granted := available.Intersect(req)
	if granted.IsEmpty() {
		return granted, false
	}
	return granted, true
}

func redirectError(redirectURI, state, code, description string) string {
	query := url.Values{
		"error":             {code},
		"error_description": {description},
	}
	if state != "" {
		query.Set("state", state)
	}
	return appendQuery(redirectURI, query)
}

func appendQuery(base string, query url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + query.Encode()
}

func parseBasicAuth(header string) (string, string, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", fmt.Errorf("not basic auth")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", fmt.Errorf("decode credentials: %w", err)
	}
	id, secret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", fmt.Errorf("malformed credentials")
	}
	unescapedID, err := url.QueryUnescape(id)
	if err != nil {
		return "", "", fmt.Errorf("unescape client id: %w", err)
	}
	unescapedSecret, err := url.QueryUnescape(secret)
	if err != nil {
		return "", "", fmt.Errorf("unescape client secret: %w", err)
	}
	return unescapedID, unescapedSecret, nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *Service) audit(event string, kv ...any) {
	logger := s.logger
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(kv)/2+1)
	fields = append(fields, zap.String("event", event))
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		fields = append(fields, zap.Any(key, kv[i+1]))
	}
	logger.Info("audit", fields...)
}
