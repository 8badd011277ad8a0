// Package xcrypto provides the AES-GCM sealing used by the reference
// BlobStore implementations. Adapted from the host runtime's
// passphrase-based blob encryption: instead of taking a raw AES key
// directly, SealWithPassphrase derives one via scrypt so callers never
// have to manage raw key material themselves.
package xcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

var ErrCiphertextTooShort = errors.New("xcrypto: ciphertext shorter than salt+nonce")

// DeriveKey turns a passphrase-shaped secret into a 32-byte AES-256 key
// using scrypt with the given salt; the caller stores that salt
// alongside the ciphertext (SealWithPassphrase does this for you, with a
// fresh random salt).
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}

// Seal encrypts plaintext under key (must be 16/24/32 bytes) with
// AES-GCM, returning nonce||ciphertext.
func Seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// SealWithPassphrase derives a key from passphrase with a fresh random
// salt and seals plaintext, returning salt||nonce||ciphertext.
func SealWithPassphrase(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	sealed, err := Seal(key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, saltLen+len(sealed))
	out = append(out, salt...)
	out = append(out, sealed...)
	return out, nil
}

// OpenWithPassphrase reverses SealWithPassphrase.
func OpenWithPassphrase(passphrase string, blob []byte) ([]byte, error) {
	if len(blob) < saltLen {
		return nil, ErrCiphertextTooShort
	}
	salt, sealed := blob[:saltLen], blob[saltLen:]
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return Open(key, sealed)
}

// ChecksumSHA256 is exposed for callers that want a content fingerprint
// alongside the sealed payload (e.g. the MNX footer checksum reuses the
// same primitive).
func ChecksumSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}
