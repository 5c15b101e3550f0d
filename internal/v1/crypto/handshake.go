// Package crypto implements the three pure, deterministic primitives the
// TCP protocol adapter builds on: ephemeral X25519 key exchange, session-key
// derivation, and AES-256-GCM framing. None of these functions perform I/O;
// the handshake driver in internal/v1/tcp owns the network side.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size in bytes of an X25519 public or private key, and of
// the derived AES-256 session key.
const KeySize = 32

// NonceSize is the size in bytes of the AES-GCM nonce transmitted alongside
// each encrypted frame.
const NonceSize = 12

// sessionKeyLabel is the literal domain-separation label from the wire
// contract (§4.1). Clients and servers MUST use byte-identical labels or
// they will not interoperate — do not change this string.
const sessionKeyLabel = "LAIR_CHAT_AES_KEY"

// KeyPair is an ephemeral X25519 keypair generated fresh for a single
// connection's handshake. It is never persisted and never reused across
// connections.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair produces a fresh ephemeral X25519 keypair using the
// package's randomness source. Following standard Curve25519 practice, the
// private scalar is clamped by the curve25519 implementation itself.
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("crypto: generate ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the ECDH shared secret between our ephemeral
// private key and the peer's ephemeral public key.
func SharedSecret(private, peerPublic [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	result, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return out, fmt.Errorf("crypto: ECDH: %w", err)
	}

	// Reject a low-order point / all-zero result rather than silently
	// deriving a key from it.
	var zero [KeySize]byte
	if bytesEqual(result, zero[:]) {
		return out, errors.New("crypto: computed shared secret is zero")
	}
	copy(out[:], result)
	return out, nil
}

// DeriveSessionKey implements the wire contract's key schedule exactly:
// session_key = SHA256(shared_secret || "LAIR_CHAT_AES_KEY").
func DeriveSessionKey(sharedSecret [KeySize]byte) [KeySize]byte {
	h := sha256.New()
	h.Write(sharedSecret[:])
	h.Write([]byte(sessionKeyLabel))
	var key [KeySize]byte
	copy(key[:], h.Sum(nil))
	return key
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Seal encrypts plaintext under key with AES-256-GCM and a fresh random
// 12-byte nonce. It returns the nonce and the ciphertext-with-tag
// separately; the frame codec is responsible for concatenating them on the
// wire (§4.2: "12 nonce bytes followed by ciphertext").
func Seal(key [KeySize]byte, plaintext []byte) (nonce [NonceSize]byte, ciphertext []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nonce, nil, err
	}
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce[:], plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts a frame produced by Seal. A returned error means the
// authentication tag did not verify; per §4.1 this is protocol-fatal and the
// caller must tear down the connection rather than retry.
func Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: authentication failed: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}
