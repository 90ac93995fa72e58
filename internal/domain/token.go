package domain

import "time"

// RevokedToken records a JWT that must be rejected until it expires on its own.
type RevokedToken struct {
	ID        int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SigningKey stores a PEM encoded RSA private key under a well-known name.
type SigningKey struct {
	ID         int64
	Name       string
	PrivatePEM string
	CreatedAt  time.Time
}
