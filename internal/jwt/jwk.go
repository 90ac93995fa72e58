package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/jackc/pgx/v5"

	"github.com/solaceid/solace/internal/domain"
	"github.com/solaceid/solace/internal/repository"
)

// signingKeyName is the well-known row under which the token signing key
// is persisted. A missing row triggers one-time key generation.
const signingKeyName = "oidc-primary"

const signingKeyBits = 2048

// KeyManager loads the persisted RSA signing key, creating it on first use.
type KeyManager struct {
	repo repository.KeyRepository

	mu     sync.Mutex
	cached *rsa.PrivateKey
	kid    string
}

// NewKeyManager creates a KeyManager.
func NewKeyManager(repo repository.KeyRepository) *KeyManager {
	return &KeyManager{repo: repo}
}

// SigningKey returns the cached RSA key, loading or generating it if needed.
func (m *KeyManager) SigningKey(ctx context.Context) (*rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return m.cached, nil
	}

	stored, err := m.repo.GetByName(ctx, signingKeyName)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		stored, err = m.generateAndPersist(ctx)
		if err != nil {
			return nil, err
		}
	}

	key, err := parsePrivatePEM(stored.PrivatePEM)
	if err != nil {
		return nil, err
	}

	m.cached = key
	m.kid = keyID(&key.PublicKey)
	return key, nil
}

// KeyID returns the derived key id, loading the key first if needed.
func (m *KeyManager) KeyID(ctx context.Context) (string, error) {
	if _, err := m.SigningKey(ctx); err != nil {
		return "", err
	}
	return m.kid, nil
}

// JWKS returns the public JSON Web Key Set for token verification.
func (m *KeyManager) JWKS(ctx context.Context) (jose.JSONWebKeySet, error) {
	key, err := m.SigningKey(ctx)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	jwk := jose.JSONWebKey{
		KeyID:     m.kid,
		Use:       "sig",
		Algorithm: string(jose.RS256),
		Key:       &key.PublicKey,
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}, nil
}

func (m *KeyManager) generateAndPersist(ctx context.Context) (domain.SigningKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, signingKeyBits)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("generate signing key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("marshal signing key: %w", err)
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	created, err := m.repo.Create(ctx, domain.SigningKey{
		Name:       signingKeyName,
		PrivatePEM: string(block),
	})
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("persist signing key: %w", err)
	}
	return created, nil
}

func parsePrivatePEM(encoded string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil {
		return nil, fmt.Errorf("signing key is not valid PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return key, nil
}

func keyID(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "primary"
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
