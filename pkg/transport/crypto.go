package transport

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the symmetric key length nacl/secretbox requires.
const KeySize = 32

// NonceSize is the random nonce prefixed to every sealed body.
const NonceSize = 24

// ErrMalformedCiphertext is returned when a body is shorter than one nonce.
var ErrMalformedCiphertext = errors.New("ciphertext shorter than one nonce")

// ErrDecryptionFailed is returned when a body does not authenticate under
// the current daemon key.
var ErrDecryptionFailed = errors.New("request body failed to decrypt under the current daemon key")

// GenerateKey returns a fresh random symmetric key, regenerated on every
// daemon start and never persisted across restarts.
func GenerateKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("failed to generate request key: %w", err)
	}

	return key, nil
}

// Seal encrypts plain under key with a fresh random nonce, prefixed to the
// returned ciphertext.
func Seal(plain []byte, key *[KeySize]byte) ([]byte, error) {
	var nonce [NonceSize]byte

	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plain, &nonce, key), nil
}

// Open decrypts a Seal-produced ciphertext under key.
func Open(ciphertext []byte, key *[KeySize]byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrMalformedCiphertext
	}

	var nonce [NonceSize]byte

	copy(nonce[:], ciphertext[:NonceSize])

	plain, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return plain, nil
}
