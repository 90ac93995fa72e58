package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/statestore"
)

// Ceremony kinds stored alongside WebAuthn session data so a ceremony
// started for one purpose cannot be finished as another.
const (
	ceremonyRegistration  = "registration"
	ceremonyLogin         = "login"
	ceremonySpecialAccess = "special_access"
)

// Ceremony is the in-flight WebAuthn state between begin and finish.
type Ceremony struct {
	Kind     string               `json:"kind"`
	UserUUID string               `json:"user_uuid"`
	Session  webauthn.SessionData `json:"session"`
}

// PasskeyService runs WebAuthn ceremonies and manages stored credentials.
type PasskeyService struct {
	users      repository.UserRepository
	passkeys   repository.PasskeyRepository
	sessions   *SessionService
	ceremonies statestore.Store[Ceremony]
	node       *snowflake.Node
	wa         *webauthn.WebAuthn
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewPasskeyService(users repository.UserRepository, passkeys repository.PasskeyRepository, sessions *SessionService, ceremonies statestore.Store[Ceremony], node *snowflake.Node, cfg config.Config, logger *zap.Logger) (*PasskeyService, error) {
	origin := cfg.WebAuthnRPOrigin
	if origin == "" {
		origin = cfg.FrontendURL
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.WebAuthnRPID,
		RPDisplayName: cfg.WebAuthnRPName,
		RPOrigins:     []string{origin},
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &PasskeyService{
		users:      users,
		passkeys:   passkeys,
		sessions:   sessions,
		ceremonies: ceremonies,
		node:       node,
		wa:         wa,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/solaceid/solace/internal/service"),
	}, nil
}

// BeginRegistration starts enrollment of a new credential for an
// authenticated user. The ceremony is keyed by the user so a second
// begin replaces the first.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userUUID string) (*protocol.CredentialCreation, error) {
	ctx, span := s.startSpan(ctx, "PasskeyService.BeginRegistration")
	defer span.End()

	waUser, err := s.loadWebAuthnUser(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.wa.BeginRegistration(waUser, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	ceremony := Ceremony{Kind: ceremonyRegistration, UserUUID: userUUID, Session: *session}
	if err := s.ceremonies.Put(ctx, registrationKey(userUUID), ceremony, s.cfg.CeremonyTTL); err != nil {
		return nil, fmt.Errorf("store ceremony: %w", err)
	}
	return creation, nil
}

// FinishRegistration validates the attestation and persists the credential.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userUUID, name string, response []byte) (domain.Passkey, error) {
	ctx, span := s.startSpan(ctx, "PasskeyService.FinishRegistration")
	defer span.End()

	ceremony, err := s.takeCeremony(ctx, registrationKey(userUUID), ceremonyRegistration)
	if err != nil {
		span.RecordError(err)
		return domain.Passkey{}, err
	}
	waUser, err := s.loadWebAuthnUser(ctx, userUUID)
	if err != nil {
		return domain.Passkey{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return domain.Passkey{}, domain.ErrBadRequest
	}
	credential, err := s.wa.CreateCredential(waUser, ceremony.Session, parsed)
	if err != nil {
		span.RecordError(err)
		return domain.Passkey{}, domain.ErrUnauthorized
	}

	created, err := s.storeCredential(ctx, userUUID, name, credential)
	if err != nil {
		return domain.Passkey{}, err
	}
	audit(s.log(), "passkey.registered", "user", userUUID, "credential", created.CredentialID)
	return created, nil
}

func (s *PasskeyService) storeCredential(ctx context.Context, userUUID, name string, credential *webauthn.Credential) (domain.Passkey, error) {
	encoded, err := json.Marshal(credential)
	if err != nil {
		return domain.Passkey{}, fmt.Errorf("encode credential: %w", err)
	}
	record := domain.Passkey{
		ID:           s.node.Generate().Int64(),
		UserUUID:     userUUID,
		Name:         name,
		CredentialID: encodeCredentialID(credential.ID),
		Credential:   encoded,
		SignCount:    credential.Authenticator.SignCount,
	}
	created, err := s.passkeys.Create(ctx, record)
	if err != nil {
		return domain.Passkey{}, fmt.Errorf("store credential: %w", err)
	}
	return created, nil
}

// BeginLogin starts a discoverable login. The caller holds no identity
// yet, so the ceremony is keyed by a fresh opaque id returned to them.
func (s *PasskeyService) BeginLogin(ctx context.Context) (*protocol.CredentialAssertion, string, error) {
	ctx, span := s.startSpan(ctx, "PasskeyService.BeginLogin")
	defer span.End()

	assertion, session, err := s.wa.BeginDiscoverableLogin()
	if err != nil {
		return nil, "", fmt.Errorf("begin discoverable login: %w", err)
	}
	ceremonyID := uuid.NewString()
	ceremony := Ceremony{Kind: ceremonyLogin, Session: *session}
	if err := s.ceremonies.Put(ctx, ceremonyID, ceremony, s.cfg.CeremonyTTL); err != nil {
		return nil, "", fmt.Errorf("store ceremony: %w", err)
	}
	return assertion, ceremonyID, nil
}

// FinishLogin validates a discoverable assertion and mints a Base
// session. A passkey is a complete factor on its own, so TOTP
// enrollment never turns this into a challenge.
func (s *PasskeyService) FinishLogin(ctx context.Context, ceremonyID string, response []byte) (*SessionToken, error) {
	ctx, span := s.startSpan(ctx, "PasskeyService.FinishLogin")
	defer span.End()

	ceremony, err := s.takeCeremony(ctx, ceremonyID, ceremonyLogin)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, domain.ErrBadRequest
	}
	validated, credential, err := s.wa.ValidatePasskeyLogin(s.discoverableHandler(ctx), ceremony.Session, parsed)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrUnauthorized
	}
	waUser, ok := validated.(*webAuthnUser)
	if !ok {
		return nil, domain.ErrInternal
	}

	s.stampCredential(ctx, credential)
	return s.completeLogin(ctx, waUser.user)
}

func (s *PasskeyService) completeLogin(ctx context.Context, user domain.User) (*SessionToken, error) {
	token, err := s.sessions.IssueSession(ctx, user.UUID, jwt.TierBase)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.UUID, time.Now().UTC()); err != nil {
		s.log().Warn("update last login failed", zap.Error(err))
	}
	audit(s.log(), "passkey.login", "user", user.UUID)
	return token, nil
}

// BeginSpecialAccess starts a re-auth ceremony scoped to the current user.
func (s *PasskeyService) BeginSpecialAccess(ctx context.Context, userUUID string) (*protocol.CredentialAssertion, error) {
	ctx, span := s.startSpan(ctx, "PasskeyService.BeginSpecialAccess")
	defer span.End()

	waUser, err := s.loadWebAuthnUser(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(waUser.credentials) == 0 {
		return nil, domain.ErrBadRequest
	}

	assertion, session, err := s.wa.BeginLogin(waUser)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}
	ceremony := Ceremony{Kind: ceremonySpecialAccess, UserUUID: userUUID, Session: *session}
	if err := s.ceremonies.Put(ctx, specialAccessKey(userUUID), ceremony, s.cfg.CeremonyTTL); err != nil {
		return nil, fmt.Errorf("store ceremony: %w", err)
	}
	return assertion, nil
}

// FinishSpecialAccess validates the assertion and mints a Special token.
func (s *PasskeyService) FinishSpecialAccess(ctx context.Context, userUUID string, response []byte) (*SessionToken, error) {
	ctx, span := s.startSpan(ctx, "PasskeyService.FinishSpecialAccess")
	defer span.End()

	ceremony, err := s.takeCeremony(ctx, specialAccessKey(userUUID), ceremonySpecialAccess)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if ceremony.UserUUID != userUUID {
		return nil, domain.ErrUnauthorized
	}
	waUser, err := s.loadWebAuthnUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, domain.ErrBadRequest
	}
	credential, err := s.wa.ValidateLogin(waUser, ceremony.Session, parsed)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrUnauthorized
	}
	s.stampCredential(ctx, credential)

	token, err := s.sessions.IssueSession(ctx, userUUID, jwt.TierSpecial)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastSpecialAccess(ctx, userUUID, time.Now().UTC()); err != nil {
		s.log().Warn("update last special access failed", zap.Error(err))
	}
	audit(s.log(), "passkey.special_access", "user", userUUID)
	return token, nil
}

// List returns the user's registered credentials.
func (s *PasskeyService) List(ctx context.Context, userUUID string) ([]domain.Passkey, error) {
	return s.passkeys.ListByUser(ctx, userUUID)
}

// Rename changes the display name of one of the user's credentials.
func (s *PasskeyService) Rename(ctx context.Context, userUUID string, id int64, name string) error {
	if name == "" {
		return domain.ErrBadRequest
	}
	return s.passkeys.Rename(ctx, userUUID, id, name)
}

// Remove deletes one of the user's credentials.
func (s *PasskeyService) Remove(ctx context.Context, userUUID string, id int64) error {
	return s.passkeys.Delete(ctx, userUUID, id)
}

// webAuthnUser adapts a stored user plus its credentials to the
// webauthn.User interface.
type webAuthnUser struct {
	user        domain.User
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte                         { return []byte(u.user.UUID) }
func (u *webAuthnUser) WebAuthnName() string                       { return u.user.Email }
func (u *webAuthnUser) WebAuthnDisplayName() string                { return u.user.Name }
func (u *webAuthnUser) WebAuthnIcon() string                       { return "" }
func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (s *PasskeyService) loadWebAuthnUser(ctx context.Context, userUUID string) (*webAuthnUser, error) {
	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	records, err := s.passkeys.ListByUser(ctx, userUUID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.Credential, &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &webAuthnUser{user: user, credentials: credentials}, nil
}

// discoverableHandler resolves the asserted credential to its stored
// owner, so a forged user handle cannot point the login at someone else.
func (s *PasskeyService) discoverableHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(rawID, _ []byte) (webauthn.User, error) {
		record, err := s.passkeys.GetByCredentialID(ctx, encodeCredentialID(rawID))
		if err != nil {
			return nil, fmt.Errorf("lookup credential: %w", err)
		}
		return s.loadWebAuthnUser(ctx, record.UserUUID)
	}
}

func (s *PasskeyService) takeCeremony(ctx context.Context, key, kind string) (*Ceremony, error) {
	ceremony, err := s.ceremonies.Take(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load ceremony: %w", err)
	}
	if ceremony == nil || ceremony.Kind != kind {
		return nil, domain.ErrBadRequest
	}
	return ceremony, nil
}

// stampCredential persists the authenticator's new sign count. Failures
// only log: the login already validated.
func (s *PasskeyService) stampCredential(ctx context.Context, credential *webauthn.Credential) {
	encoded, err := json.Marshal(credential)
	if err != nil {
		s.log().Warn("encode credential failed", zap.Error(err))
		return
	}
	id := encodeCredentialID(credential.ID)
	if err := s.passkeys.UpdateCredential(ctx, id, encoded, credential.Authenticator.SignCount, time.Now().UTC()); err != nil {
		s.log().Warn("update credential failed", zap.Error(err), zap.String("credential", id))
	}
}

func registrationKey(userUUID string) string  { return "reg:" + userUUID }
func specialAccessKey(userUUID string) string { return "special:" + userUUID }

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func (s *PasskeyService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *PasskeyService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
