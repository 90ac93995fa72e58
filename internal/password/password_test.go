package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/solaceid/solace/internal/password"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	hash, err := password.Hash("correct horse battery staple", "pepper")
	require.NoError(t, err)

	ok, err := password.Verify("correct horse battery staple", "pepper", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("wrong password", "pepper", hash)
	require.NoError(t, err)
	require.False(t, ok)

	// A different pepper must fail even with the right password.
	ok, err = password.Verify("correct horse battery staple", "other", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	_, err := password.Verify("pw", "pepper", "$argon2id$bogus")
	require.Error(t, err)
}

func TestCipherRoundTrip(t *testing.T) {
	cipher, err := password.NewCipher()
	require.NoError(t, err)

	pub, err := cipher.PublicKey()
	require.NoError(t, err)
	require.NotEmpty(t, pub)

	envelope, err := cipher.Encrypt("hunter2")
	require.NoError(t, err)

	plain, err := cipher.Decrypt(envelope)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plain)

	_, err = cipher.Decrypt("not base64!!")
	require.Error(t, err)
}
