package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/jwt"
	pw "github.com/solaceid/solace/internal/password"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/revocation"
)

// SessionService handles password login, step-up access, and session
// lifecycle for the tiered session tokens.
type SessionService struct {
	users       repository.UserRepository
	cipher      *pw.Cipher
	jwt         *jwt.Generator
	revocations *revocation.Registry
	cfg         config.Config
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewSessionService wires dependencies.
func NewSessionService(users repository.UserRepository, cipher *pw.Cipher, generator *jwt.Generator, revocations *revocation.Registry, cfg config.Config, logger *zap.Logger) *SessionService {
	return &SessionService{
		users:       users,
		cipher:      cipher,
		jwt:         generator,
		revocations: revocations,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("github.com/solaceid/solace/internal/service"),
	}
}

// PublicKey exposes the transport public key clients envelope passwords with.
func (s *SessionService) PublicKey() (string, error) {
	return s.cipher.PublicKey()
}

// PasswordLogin verifies the enveloped password and mints either a Base
// session or, when TOTP is enrolled, a TOTPRequired challenge token.
func (s *SessionService) PasswordLogin(ctx context.Context, email, envelope string) (*SessionToken, error) {
	ctx, span := s.startSpan(ctx, "SessionService.PasswordLogin")
	defer span.End()

	plain, err := s.cipher.Decrypt(envelope)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrBadRequest
	}

	normalized := strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrUnauthorized
	}

	valid, err := pw.Verify(plain, s.cfg.AuthPepper, user.PasswordHash)
	if err != nil || !valid {
		span.RecordError(fmt.Errorf("invalid password"))
		return nil, domain.ErrUnauthorized
	}

	if user.TOTPEnabled() {
		token, err := s.mint(ctx, user.UUID, jwt.TierTOTPRequired)
		if err == nil {
			audit(s.log(), "password.login.totp_challenge", "user", user.UUID)
		}
		return token, err
	}

	token, err := s.mint(ctx, user.UUID, jwt.TierBase)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, user.UUID, time.Now().UTC()); err != nil {
		s.log().Warn("update last login failed", zap.Error(err))
	}
	audit(s.log(), "password.login.success", "user", user.UUID)
	return token, nil
}

// SpecialAccess re-proves the password for an already authenticated user
// and mints a short-lived Special token.
func (s *SessionService) SpecialAccess(ctx context.Context, userUUID, envelope string) (*SessionToken, error) {
	ctx, span := s.startSpan(ctx, "SessionService.SpecialAccess")
	defer span.End()

	user, err := s.verifyEnvelope(ctx, userUUID, envelope)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	token, err := s.mint(ctx, user.UUID, jwt.TierSpecial)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastSpecialAccess(ctx, user.UUID, time.Now().UTC()); err != nil {
		s.log().Warn("update last special access failed", zap.Error(err))
	}
	audit(s.log(), "special_access.granted", "user", user.UUID)
	return token, nil
}

// ChangePassword swaps the password after verifying the old one. Requires
// a Special tier session, enforced by the transport layer.
func (s *SessionService) ChangePassword(ctx context.Context, userUUID, oldEnvelope, newEnvelope string) error {
	ctx, span := s.startSpan(ctx, "SessionService.ChangePassword")
	defer span.End()

	if _, err := s.verifyEnvelope(ctx, userUUID, oldEnvelope); err != nil {
		span.RecordError(err)
		return err
	}

	plain, err := s.cipher.Decrypt(newEnvelope)
	if err != nil {
		return domain.ErrBadRequest
	}
	if strings.TrimSpace(plain) == "" {
		return domain.ErrBadRequest
	}

	hashed, err := pw.Hash(plain, s.cfg.AuthPepper)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userUUID, hashed); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	audit(s.log(), "password.changed", "user", userUUID)
	return nil
}

// UpdateProfile changes the caller's own display name and image.
func (s *SessionService) UpdateProfile(ctx context.Context, userUUID, name, image string) error {
	ctx, span := s.startSpan(ctx, "SessionService.UpdateProfile")
	defer span.End()

	if name == "" && image == "" {
		return domain.ErrBadRequest
	}
	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return domain.ErrUnauthorized
	}
	if name != "" {
		user.Name = name
	}
	if image != "" {
		user.Image = image
	}
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	audit(s.log(), "account.profile_updated", "user", userUUID)
	return nil
}

// ChangeEmail moves the account to a new address. Requires a Special
// tier session, enforced by the transport layer.
func (s *SessionService) ChangeEmail(ctx context.Context, userUUID, newEmail string) error {
	ctx, span := s.startSpan(ctx, "SessionService.ChangeEmail")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(newEmail))
	if normalized == "" {
		return domain.ErrBadRequest
	}
	if existing, err := s.users.GetByEmail(ctx, normalized); err == nil {
		if existing.UUID == userUUID {
			return nil
		}
		return domain.ErrConflict
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check email: %w", err)
	}

	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return domain.ErrUnauthorized
	}
	user.Email = normalized
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	audit(s.log(), "account.email_changed", "user", userUUID)
	return nil
}

// Logout blacklists the presented session token until its natural expiry.
func (s *SessionService) Logout(ctx context.Context, token string) error {
	ctx, span := s.startSpan(ctx, "SessionService.Logout")
	defer span.End()

	expiry, err := s.jwt.Expiry(ctx, token)
	if err != nil {
		span.RecordError(err)
		return domain.ErrBadRequest
	}
	if err := s.revocations.Revoke(ctx, token, expiry); err != nil {
		return err
	}
	audit(s.log(), "session.logout")
	return nil
}

// IssueSession mints a session token for flows that authenticated the
// user by other means (TOTP confirm, passkeys).
func (s *SessionService) IssueSession(ctx context.Context, userUUID string, tier jwt.Tier) (*SessionToken, error) {
	return s.mint(ctx, userUUID, tier)
}

// Authenticate checks revocation first, then signature, expiry, and tier,
// returning the subject user id. Revoked tokens never reach signature work.
func (s *SessionService) Authenticate(ctx context.Context, token string, tier jwt.Tier) (string, error) {
	revoked, err := s.revocations.IsRevoked(ctx, token)
	if err != nil {
		return "", err
	}
	if revoked {
		return "", domain.ErrUnauthorized
	}

	claims, _, err := s.jwt.ValidateSession(ctx, token, tier)
	if err != nil {
		return "", domain.ErrUnauthorized
	}
	return claims.Subject, nil
}

// Info loads the user together with groups and derived authorization data.
func (s *SessionService) Info(ctx context.Context, userUUID string) (UserInfo, error) {
	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserInfo{}, domain.ErrNotFound
		}
		return UserInfo{}, fmt.Errorf("load user: %w", err)
	}
	groups, err := s.users.GroupsOf(ctx, userUUID)
	if err != nil {
		return UserInfo{}, fmt.Errorf("load groups: %w", err)
	}
	return newUserInfo(user, groups), nil
}

func (s *SessionService) verifyEnvelope(ctx context.Context, userUUID, envelope string) (domain.User, error) {
	plain, err := s.cipher.Decrypt(envelope)
	if err != nil {
		return domain.User{}, domain.ErrBadRequest
	}
	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		return domain.User{}, domain.ErrUnauthorized
	}
	valid, err := pw.Verify(plain, s.cfg.AuthPepper, user.PasswordHash)
	if err != nil || !valid {
		return domain.User{}, domain.ErrUnauthorized
	}
	return user, nil
}

func (s *SessionService) mint(ctx context.Context, userUUID string, tier jwt.Tier) (*SessionToken, error) {
	token, expiry, err := s.jwt.GenerateSession(ctx, userUUID, tier)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	return &SessionToken{Token: token, Tier: tier, ExpiresAt: expiry}, nil
}

func (s *SessionService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *SessionService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

// sessionClaims is kept for handlers needing the raw claims of a token.
func (s *SessionService) Claims(ctx context.Context, token string, tier jwt.Tier) (*gojwt.Claims, error) {
	claims, _, err := s.jwt.ValidateSession(ctx, token, tier)
	return claims, err
}
