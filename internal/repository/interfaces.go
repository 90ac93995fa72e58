package repository

import (
	"context"
	"time"

	"github.com/solaceid/solace/internal/domain"
	domainoauth "github.com/solaceid/solace/internal/domain/oauth"
)

// UserRepository exposes persistence for users. Not-found is reported as
// pgx.ErrNoRows regardless of backend.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByUUID(ctx context.Context, uuid string) (domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) error
	UpdatePasswordHash(ctx context.Context, uuid, hash string) error
	UpdateTOTP(ctx context.Context, uuid, secret string, created, lastUsed *time.Time) error
	UpdateLastLogin(ctx context.Context, uuid string, at time.Time) error
	UpdateLastSpecialAccess(ctx context.Context, uuid string, at time.Time) error
	Delete(ctx context.Context, uuid string) error
	GroupsOf(ctx context.Context, uuid string) ([]domain.Group, error)
}

// GroupRepository exposes persistence for groups and their membership.
type GroupRepository interface {
	GetByUUID(ctx context.Context, uuid string) (domain.Group, error)
	List(ctx context.Context) ([]domain.Group, error)
	Create(ctx context.Context, group domain.Group) (domain.Group, error)
	Update(ctx context.Context, group domain.Group) error
	Delete(ctx context.Context, uuid string) error
}

// ClientRepository exposes OAuth client registrations and access grants.
type ClientRepository interface {
	GetByClientID(ctx context.Context, clientID string) (domainoauth.Client, error)
	List(ctx context.Context) ([]domainoauth.Client, error)
	Create(ctx context.Context, client domainoauth.Client) (domainoauth.Client, error)
	Update(ctx context.Context, client domainoauth.Client) error
	Delete(ctx context.Context, clientID string) error
	// AllowsUser reports whether the user holds a direct grant or belongs
	// to a granted group for the client.
	AllowsUser(ctx context.Context, clientID, userUUID string) (bool, error)
}

// PolicyRepository resolves scope tokens to claim policies.
type PolicyRepository interface {
	GetScopeMapping(ctx context.Context, name string) (domainoauth.ScopeMapping, error)
}

// RevocationRepository stores blacklisted tokens until they expire.
type RevocationRepository interface {
	Insert(ctx context.Context, token domain.RevokedToken) error
	Exists(ctx context.Context, token string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// KeyRepository stores signing keys under well-known names.
type KeyRepository interface {
	GetByName(ctx context.Context, name string) (domain.SigningKey, error)
	Create(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}

// PasskeyRepository stores WebAuthn credentials.
type PasskeyRepository interface {
	ListByUser(ctx context.Context, userUUID string) ([]domain.Passkey, error)
	GetByCredentialID(ctx context.Context, credentialID string) (domain.Passkey, error)
	Create(ctx context.Context, passkey domain.Passkey) (domain.Passkey, error)
	UpdateCredential(ctx context.Context, credentialID string, credential []byte, signCount uint32, lastUsed time.Time) error
	Rename(ctx context.Context, userUUID string, id int64, name string) error
	Delete(ctx context.Context, userUUID string, id int64) error
}
