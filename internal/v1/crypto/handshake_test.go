package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyExchangeRoundTrip(t *testing.T) {
	client, err := GenerateKeyPair()
	require.NoError(t, err)
	server, err := GenerateKeyPair()
	require.NoError(t, err)

	clientSecret, err := SharedSecret(client.Private, server.Public)
	require.NoError(t, err)
	serverSecret, err := SharedSecret(server.Private, client.Public)
	require.NoError(t, err)

	require.Equal(t, clientSecret, serverSecret)

	clientKey := DeriveSessionKey(clientSecret)
	serverKey := DeriveSessionKey(serverSecret)
	require.Equal(t, clientKey, serverKey)
}

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte(`{"type":"heartbeat"}`)
	nonce, ciphertext, err := Seal(key, plaintext)
	require.NoError(t, err)

	got, err := Open(key, nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	var key1, key2 [KeySize]byte
	copy(key1[:], []byte("0123456789abcdef0123456789abcdef"))
	copy(key2[:], []byte("fedcba9876543210fedcba9876543210"))

	nonce, ciphertext, err := Seal(key1, []byte("hello"))
	require.NoError(t, err)

	_, err = Open(key2, nonce, ciphertext)
	require.Error(t, err)
}

func TestOpenFailsOnBitFlip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	nonce, ciphertext, err := Seal(key, []byte("hello, world"))
	require.NoError(t, err)

	ciphertext[0] ^= 0xFF

	_, err = Open(key, nonce, ciphertext)
	require.Error(t, err)
}

func TestNoncesAreRandomPerFrame(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	n1, _, err := Seal(key, []byte("a"))
	require.NoError(t, err)
	n2, _, err := Seal(key, []byte("a"))
	require.NoError(t, err)

	require.NotEqual(t, n1, n2)
}

func TestPasswordHashAndVerify(t *testing.T) {
	verifier, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	require.True(t, VerifyPassword("correct horse battery staple", verifier))
	require.False(t, VerifyPassword("wrong password", verifier))
}

func TestPasswordVerifierIsSalted(t *testing.T) {
	v1, err := HashPassword("same-password")
	require.NoError(t, err)
	v2, err := HashPassword("same-password")
	require.NoError(t, err)

	require.NotEqual(t, v1, v2, "two hashes of the same password must use independent salts")
	require.True(t, VerifyPassword("same-password", v1))
	require.True(t, VerifyPassword("same-password", v2))
}

func TestVerifyPasswordRejectsMalformedVerifier(t *testing.T) {
	require.False(t, VerifyPassword("x", "not-a-verifier"))
	require.False(t, VerifyPassword("x", ""))
}
