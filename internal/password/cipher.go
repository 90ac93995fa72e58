package password

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

const cipherKeyBits = 2048

// Cipher holds the transport keypair clients use to envelope passwords
// before submitting them. The key lives only for the process lifetime;
// restarting the server simply forces clients to refetch the public key.
type Cipher struct {
	key *rsa.PrivateKey
}

// NewCipher generates a fresh RSA transport keypair.
func NewCipher() (*Cipher, error) {
	key, err := rsa.GenerateKey(rand.Reader, cipherKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate transport key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// PublicKey returns the base64 encoded SPKI public key for clients.
func (c *Cipher) PublicKey() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&c.key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// Decrypt opens a base64 encoded PKCS#1 v1.5 password envelope.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, c.key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("open envelope: %w", err)
	}
	return string(plain), nil
}

// Encrypt seals a password with the public key. Primarily used by tests.
func (c *Cipher) Encrypt(password string) (string, error) {
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &c.key.PublicKey, []byte(password))
	if err != nil {
		return "", fmt.Errorf("seal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
