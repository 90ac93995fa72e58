package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/statestore"
)

func newTOTPFixture(t *testing.T) (*TOTPService, *fakeUserRepo) {
	t.Helper()
	sessions, users, _ := newSessionFixture(t)
	cfg := config.Config{
		AuthPepper:     testPepper,
		CeremonyTTL:    5 * time.Minute,
		WebAuthnRPName: "Test IdP",
	}
	svc := NewTOTPService(users, sessions, statestore.NewMemory[string](), cfg, zap.NewNop())
	return svc, users
}

func code(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	generated, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)
	return generated
}

func TestTOTPSetup(t *testing.T) {
	svc, users := newTOTPFixture(t)
	ctx := context.Background()

	setup, err := svc.StartSetup(ctx, testUserUUID)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Contains(t, setup.URL, "otpauth://")

	require.NoError(t, svc.FinishSetup(ctx, testUserUUID, code(t, setup.Secret, time.Now())))
	require.True(t, users.users[testUserUUID].TOTPEnabled())

	// Second setup on an enrolled user is rejected.
	_, err = svc.StartSetup(ctx, testUserUUID)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestTOTPFinishSetupConsumesPendingSecret(t *testing.T) {
	svc, users := newTOTPFixture(t)
	ctx := context.Background()

	setup, err := svc.StartSetup(ctx, testUserUUID)
	require.NoError(t, err)

	err = svc.FinishSetup(ctx, testUserUUID, "000000")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.False(t, users.users[testUserUUID].TOTPEnabled())

	// The secret is single use; even the right code fails now.
	err = svc.FinishSetup(ctx, testUserUUID, code(t, setup.Secret, time.Now()))
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestTOTPConfirm(t *testing.T) {
	svc, users := newTOTPFixture(t)
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "Test IdP", AccountName: "jane@example.com"})
	require.NoError(t, err)
	created := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, users.UpdateTOTP(ctx, testUserUUID, key.Secret(), &created, nil))

	valid := code(t, key.Secret(), time.Now())
	token, err := svc.Confirm(ctx, testUserUUID, valid)
	require.NoError(t, err)
	require.Equal(t, jwt.TierBase, token.Tier)
	require.False(t, users.users[testUserUUID].LastLogin.IsZero())
	require.NotNil(t, users.users[testUserUUID].TOTPLastUsed)

	// Replaying a code inside the same step is rejected.
	_, err = svc.Confirm(ctx, testUserUUID, valid)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTOTPConfirmWrongCode(t *testing.T) {
	svc, users := newTOTPFixture(t)
	ctx := context.Background()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "Test IdP", AccountName: "jane@example.com"})
	require.NoError(t, err)
	created := time.Now().UTC()
	require.NoError(t, users.UpdateTOTP(ctx, testUserUUID, key.Secret(), &created, nil))

	_, err = svc.Confirm(ctx, testUserUUID, "123456")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestTOTPRemove(t *testing.T) {
	svc, users := newTOTPFixture(t)
	ctx := context.Background()

	err := svc.Remove(ctx, testUserUUID)
	require.ErrorIs(t, err, domain.ErrBadRequest)

	created := time.Now().UTC()
	require.NoError(t, users.UpdateTOTP(ctx, testUserUUID, "JBSWY3DPEHPK3PXP", &created, nil))

	require.NoError(t, svc.Remove(ctx, testUserUUID))
	require.False(t, users.users[testUserUUID].TOTPEnabled())
}
