// Package seal implements the crypto codec: AES-256-GCM per-chunk
// authenticated encryption with PBKDF2-HMAC-SHA256 key derivation for
// passphrase-style keys.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/zzenonn/digcap/internal/capsuleerr"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
	// Iterations is the PBKDF2 round count, fixed for interop.
	Iterations = 100000
)

// Salt is the fixed, public PBKDF2 salt. It is part of the on-disk/consensus
// contract: any two implementations that want to interoperate over
// passphrase-derived keys must use this exact value.
var Salt = []byte("DIGCAPv1-SALT-v1")

// Key is either 32 raw key bytes or a UTF-8 passphrase to be expanded via
// PBKDF2. The empty passphrase is valid and derives a well-defined key.
type Key struct {
	raw        []byte
	passphrase *string
}

// RawKey wraps 32 raw key bytes for direct use, bypassing derivation.
func RawKey(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("raw key must be %d bytes, got %d", KeySize, len(b))
	}
	cp := make([]byte, KeySize)
	copy(cp, b)
	return Key{raw: cp}, nil
}

// PassphraseKey wraps an arbitrary UTF-8 string to be expanded via PBKDF2.
func PassphraseKey(s string) Key {
	return Key{passphrase: &s}
}

// Derive resolves a Key into its 32-byte AES key.
func Derive(k Key) ([KeySize]byte, error) {
	var out [KeySize]byte
	if k.raw != nil {
		copy(out[:], k.raw)
		return out, nil
	}
	if k.passphrase == nil {
		return out, fmt.Errorf("seal: key has neither raw bytes nor a passphrase")
	}
	derived := pbkdf2.Key([]byte(*k.passphrase), Salt, Iterations, KeySize, sha256.New)
	copy(out[:], derived)
	Zero(derived)
	return out, nil
}

// Zero overwrites a buffer with zeroes. Used to scrub transient key and
// plaintext material once it is no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NewIV samples a fresh 12-byte GCM nonce from the CSPRNG.
func NewIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return iv, fmt.Errorf("%w: %v", capsuleerr.ErrRngUnavailable, err)
	}
	return iv, nil
}

func newGCM(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, TagSize)
}

// Seal encrypts plaintext under key with iv, authenticating aad. The return
// value is ciphertext‖tag, as required by the capsule body layout.
func Seal(plaintext []byte, key [KeySize]byte, iv [IVSize]byte, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv[:], plaintext, aad), nil
}

// Open decrypts and verifies ciphertext‖tag under key, iv, and aad.
// Tag verification failure is reported as capsuleerr.ErrDecryptionFailed,
// distinct from any padding-layer error.
func Open(sealed []byte, key [KeySize]byte, iv [IVSize]byte, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, iv[:], sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capsuleerr.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
