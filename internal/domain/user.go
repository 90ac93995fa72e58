package domain

import (
	"time"

	"github.com/solaceid/solace/internal/permission"
)

// User represents an end user of the identity provider.
type User struct {
	ID                int64
	UUID              string
	Email             string
	Name              string
	Image             string
	PasswordHash      string
	Permissions       []permission.Permission
	TOTPSecret        string
	TOTPCreated       *time.Time
	TOTPLastUsed      *time.Time
	LastLogin         time.Time
	LastSpecialAccess time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TOTPEnabled reports whether a confirmed TOTP secret is on file.
func (u User) TOTPEnabled() bool {
	return u.TOTPSecret != ""
}

// Group bundles users with shared permissions and an access level.
type Group struct {
	ID          int64
	UUID        string
	Name        string
	AccessLevel int32
	Permissions []permission.Permission
	UserUUIDs   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Passkey is a stored WebAuthn credential belonging to a user.
type Passkey struct {
	ID           int64
	UserUUID     string
	Name         string
	CredentialID string
	Credential   []byte
	SignCount    uint32
	CreatedAt    time.Time
	LastUsed     time.Time
}
