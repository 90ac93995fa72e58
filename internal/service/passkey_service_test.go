package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solaceid/solace/internal/config"
	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/jwt"
	"github.com/solaceid/solace/internal/repository"
	"github.com/solaceid/solace/internal/statestore"
)

func newPasskeyFixture(t *testing.T) (*PasskeyService, *fakeUserRepo, *fakePasskeyRepo) {
	t.Helper()

	sessions, users, _ := newSessionFixture(t)
	passkeys := &fakePasskeyRepo{}
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	cfg := config.Config{
		AuthPepper:       testPepper,
		CeremonyTTL:      5 * time.Minute,
		WebAuthnRPID:     "id.example.com",
		WebAuthnRPOrigin: "https://id.example.com",
		WebAuthnRPName:   "Example ID",
	}
	svc, err := NewPasskeyService(users, passkeys, sessions, statestore.NewMemory[Ceremony](), node, cfg, zap.NewNop())
	require.NoError(t, err)
	return svc, users, passkeys
}

func testCredential(rawID []byte) *webauthn.Credential {
	return &webauthn.Credential{
		ID:            rawID,
		PublicKey:     []byte("test-public-key"),
		Authenticator: webauthn.Authenticator{SignCount: 3},
	}
}

func TestStoreCredentialAssignsRowID(t *testing.T) {
	svc, _, passkeys := newPasskeyFixture(t)
	ctx := context.Background()

	first, err := svc.storeCredential(ctx, testUserUUID, "Laptop", testCredential([]byte("cred-1")))
	require.NoError(t, err)
	second, err := svc.storeCredential(ctx, testUserUUID, "Phone", testCredential([]byte("cred-2")))
	require.NoError(t, err)

	require.NotZero(t, first.ID)
	require.NotZero(t, second.ID)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("cred-1")), first.CredentialID)
	require.Len(t, passkeys.records, 2)
}

func TestPasskeyLoginIgnoresTOTPEnrollment(t *testing.T) {
	svc, users, _ := newPasskeyFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, users.UpdateTOTP(ctx, testUserUUID, "JBSWY3DPEHPK3PXP", &now, nil))

	token, err := svc.completeLogin(ctx, users.users[testUserUUID])
	require.NoError(t, err)
	require.Equal(t, jwt.TierBase, token.Tier)
	require.False(t, users.users[testUserUUID].LastLogin.IsZero())

	subject, err := svc.sessions.Authenticate(ctx, token.Token, jwt.TierBase)
	require.NoError(t, err)
	require.Equal(t, testUserUUID, subject)
}

func TestDiscoverableHandlerResolvesCredentialOwner(t *testing.T) {
	svc, _, _ := newPasskeyFixture(t)
	ctx := context.Background()

	rawID := []byte("cred-owner")
	_, err := svc.storeCredential(ctx, testUserUUID, "Laptop", testCredential(rawID))
	require.NoError(t, err)

	handler := svc.discoverableHandler(ctx)

	// The user handle is ignored: the stored credential decides the owner.
	user, err := handler(rawID, []byte("someone-else"))
	require.NoError(t, err)
	adapter, ok := user.(*webAuthnUser)
	require.True(t, ok)
	require.Equal(t, testUserUUID, adapter.user.UUID)
	require.Len(t, adapter.credentials, 1)

	_, err = handler([]byte("unknown"), nil)
	require.Error(t, err)
}

func TestPasskeyRenameAndRemove(t *testing.T) {
	svc, _, passkeys := newPasskeyFixture(t)
	ctx := context.Background()

	created, err := svc.storeCredential(ctx, testUserUUID, "Laptop", testCredential([]byte("cred-3")))
	require.NoError(t, err)

	require.ErrorIs(t, svc.Rename(ctx, testUserUUID, created.ID, ""), domain.ErrBadRequest)
	require.NoError(t, svc.Rename(ctx, testUserUUID, created.ID, "Work Laptop"))
	require.Equal(t, "Work Laptop", passkeys.records[0].Name)

	// A different user cannot touch the credential.
	require.Error(t, svc.Remove(ctx, "someone-else", created.ID))
	require.NoError(t, svc.Remove(ctx, testUserUUID, created.ID))
	require.Empty(t, passkeys.records)
}

type fakePasskeyRepo struct {
	records []domain.Passkey
}

var _ repository.PasskeyRepository = (*fakePasskeyRepo)(nil)

func (r *fakePasskeyRepo) ListByUser(ctx context.Context, userUUID string) ([]domain.Passkey, error) {
	var out []domain.Passkey
	for _, record := range r.records {
		if record.UserUUID == userUUID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *fakePasskeyRepo) GetByCredentialID(ctx context.Context, credentialID string) (domain.Passkey, error) {
	for _, record := range r.records {
		if record.CredentialID == credentialID {
			return record, nil
		}
	}
	return domain.Passkey{}, pgx.ErrNoRows
}

func (r *fakePasskeyRepo) Create(ctx context.Context, passkey domain.Passkey) (domain.Passkey, error) {
	passkey.CreatedAt = time.Now().UTC()
	r.records = append(r.records, passkey)
	return passkey, nil
}

func (r *fakePasskeyRepo) UpdateCredential(ctx context.Context, credentialID string, credential []byte, signCount uint32, lastUsed time.Time) error {
	for i, record := range r.records {
		if record.CredentialID == credentialID {
			r.records[i].Credential = credential
			r.records[i].SignCount = signCount
			r.records[i].LastUsed = lastUsed
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakePasskeyRepo) Rename(ctx context.Context, userUUID string, id int64, name string) error {
	for i, record := range r.records {
		if record.UserUUID == userUUID && record.ID == id {
			r.records[i].Name = name
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *fakePasskeyRepo) Delete(ctx context.Context, userUUID string, id int64) error {
	for i, record := range r.records {
		if record.UserUUID == userUUID && record.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}
