package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/statestore"
)

// TOTPSetup is handed to the client so it can render a QR code.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// TOTPService manages authenticator enrollment and challenge confirmation.
// A setup stays pending in the state store until the user proves they can
// produce a code from it.
type TOTPService struct {
	users    repository.UserRepository
	sessions *SessionService
	pending  statestore.Store[string]
	cfg      config.Config
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewTOTPService(users repository.UserRepository, sessions *SessionService, pending statestore.Store[string], cfg config.Config, logger *zap.Logger) *TOTPService {
	return &TOTPService{
		users:    users,
		sessions: sessions,
		pending:  pending,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/solaceid/solace/internal/service"),
	}
}

// StartSetup generates a fresh secret and parks it until FinishSetup.
// Requires a Special tier session, enforced by the transport layer.
func (s *TOTPService) StartSetup(ctx context.Context, userUUID string) (*TOTPSetup, error) {
	ctx, span := s.startSpan(ctx, "TOTPService.StartSetup")
	defer span.End()

	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrUnauthorized
	}
	if user.TOTPEnabled() {
		return nil, domain.ErrConflict
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.WebAuthnRPName,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if err := s.pending.Put(ctx, userUUID, key.Secret(), s.cfg.CeremonyTTL); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}
	audit(s.log(), "totp.setup.started", "user", userUUID)
	return &TOTPSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

// FinishSetup consumes the pending secret when the submitted code matches
// and enrolls it on the user.
func (s *TOTPService) FinishSetup(ctx context.Context, userUUID, code string) error {
	ctx, span := s.startSpan(ctx, "TOTPService.FinishSetup")
	defer span.End()

	secret, err := s.pending.Take(ctx, userUUID)
	if err != nil {
		return fmt.Errorf("load pending secret: %w", err)
	}
	if secret == nil {
		return domain.ErrBadRequest
	}
	if !totp.Validate(code, *secret) {
		span.RecordError(fmt.Errorf("code mismatch"))
		return domain.ErrUnauthorized
	}

	now := time.Now().UTC()
	if err := s.users.UpdateTOTP(ctx, userUUID, *secret, &now, &now); err != nil {
		return fmt.Errorf("enroll totp: %w", err)
	}
	audit(s.log(), "totp.setup.finished", "user", userUUID)
	return nil
}

// Confirm upgrades a TOTPRequired session to Base when the code checks
// out. Codes inside the window already consumed at last use are rejected.
func (s *TOTPService) Confirm(ctx context.Context, userUUID, code string) (*SessionToken, error) {
	ctx, span := s.startSpan(ctx, "TOTPService.Confirm")
	defer span.End()

	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return nil, domain.ErrUnauthorized
	}
	if !user.TOTPEnabled() {
		return nil, domain.ErrBadRequest
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return nil, domain.ErrUnauthorized
	}

	now := time.Now().UTC()
	if user.TOTPLastUsed != nil && sameWindow(*user.TOTPLastUsed, now) {
		return nil, domain.ErrUnauthorized
	}

	token, err := s.sessions.IssueSession(ctx, user.UUID, jwt.TierBase)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateTOTP(ctx, user.UUID, user.TOTPSecret, user.TOTPCreated, &now); err != nil {
		s.log().Warn("stamp totp use failed", zap.Error(err))
	}
	if err := s.users.UpdateLastLogin(ctx, user.UUID, now); err != nil {
		s.log().Warn("update last login failed", zap.Error(err))
	}
	audit(s.log(), "totp.confirmed", "user", user.UUID)
	return token, nil
}

// Remove disables the authenticator. Requires a Special tier session.
func (s *TOTPService) Remove(ctx context.Context, userUUID string) error {
	ctx, span := s.startSpan(ctx, "TOTPService.Remove")
	defer span.End()

	user, err := s.users.GetByUUID(ctx, userUUID)
	if err != nil {
		span.RecordError(err)
		return domain.ErrUnauthorized
	}
	if !user.TOTPEnabled() {
		return domain.ErrBadRequest
	}
	if err := s.users.UpdateTOTP(ctx, userUUID, "", nil, nil); err != nil {
		return fmt.Errorf("remove totp: %w", err)
	}
	audit(s.log(), "totp.removed", "user", userUUID)
	return nil
}

// sameWindow reports whether both instants fall in the same 30 second
// TOTP step, which would allow replaying an already consumed code.
func sameWindow(a, b time.Time) bool {
	const step = 30 * time.Second
	return a.Unix()/int64(step.Seconds()) == b.Unix()/int64(step.Seconds())
}

func (s *TOTPService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TOTPService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
