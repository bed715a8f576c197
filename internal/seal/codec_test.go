package seal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zzenonn/digcap/internal/capsuleerr"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := Derive(PassphraseKey("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	iv, err := NewIV()
	if err != nil {
		t.Fatalf("NewIV() error = %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	aad := []byte("capsule-identity")

	ciphertext, err := Seal(plaintext, key, iv, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatalf("Seal() returned plaintext unchanged")
	}

	recovered, err := Open(ciphertext, key, iv, aad)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Errorf("Open() = %q, want %q", recovered, plaintext)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key1, _ := Derive(PassphraseKey("key-one"))
	key2, _ := Derive(PassphraseKey("key-two"))
	iv, _ := NewIV()
	aad := []byte("aad")

	ciphertext, err := Seal([]byte("secret"), key1, iv, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := Open(ciphertext, key2, iv, aad); !errors.Is(err, capsuleerr.ErrDecryptionFailed) {
		t.Fatalf("Open() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenWrongAADFails(t *testing.T) {
	key, _ := Derive(PassphraseKey("a-key"))
	iv, _ := NewIV()

	ciphertext, err := Seal([]byte("secret"), key, iv, []byte("aad-one"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := Open(ciphertext, key, iv, []byte("aad-two")); !errors.Is(err, capsuleerr.ErrDecryptionFailed) {
		t.Fatalf("Open() with wrong aad error = %v, want ErrDecryptionFailed", err)
	}
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	key, _ := Derive(PassphraseKey("a-key"))
	iv, _ := NewIV()
	aad := []byte("aad")

	ciphertext, err := Seal([]byte("secret message"), key, iv, aad)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	ciphertext[0] ^= 0xFF

	if _, err := Open(ciphertext, key, iv, aad); !errors.Is(err, capsuleerr.ErrDecryptionFailed) {
		t.Fatalf("Open() tampered ciphertext error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDeriveIsDeterministicForSamePassphrase(t *testing.T) {
	a, err := Derive(PassphraseKey("reused passphrase"))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	b, err := Derive(PassphraseKey("reused passphrase"))
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if a != b {
		t.Errorf("Derive() is not deterministic for the same passphrase")
	}
}

func TestRawKeyRejectsWrongLength(t *testing.T) {
	if _, err := RawKey(make([]byte, 16)); err == nil {
		t.Errorf("RawKey() with 16 bytes accepted, want error")
	}
	if _, err := RawKey(make([]byte, KeySize)); err != nil {
		t.Errorf("RawKey() with %d bytes rejected: %v", KeySize, err)
	}
}

func TestRawKeyBypassesDerivation(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, KeySize)
	k, err := RawKey(raw)
	if err != nil {
		t.Fatalf("RawKey() error = %v", err)
	}
	derived, err := Derive(k)
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if !bytes.Equal(derived[:], raw) {
		t.Errorf("Derive() of a raw key altered it: got %x, want %x", derived, raw)
	}
}

func TestNewIVIsRandom(t *testing.T) {
	a, err := NewIV()
	if err != nil {
		t.Fatalf("NewIV() error = %v", err)
	}
	b, err := NewIV()
	if err != nil {
		t.Fatalf("NewIV() error = %v", err)
	}
	if a == b {
		t.Errorf("two NewIV() calls produced the same nonce")
	}
}
