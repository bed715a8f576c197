package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zzenonn/digcap/internal/bucketplan"
	"github.com/zzenonn/digcap/internal/capsuleerr"
	"github.com/zzenonn/digcap/internal/seal"
)

// withSmallBuckets temporarily shrinks the legal bucket set so tests can
// exercise multi-chunk plans without allocating gigabytes of fixture data.
func withSmallBuckets(t *testing.T) {
	origSizes := bucketplan.Sizes
	origMin, origMax := bucketplan.Min, bucketplan.Max

	bucketplan.Sizes = [5]int64{16, 32, 64, 128, 256}
	bucketplan.Min, bucketplan.Max = bucketplan.Sizes[0], bucketplan.Sizes[4]

	t.Cleanup(func() {
		bucketplan.Sizes = origSizes
		bucketplan.Min, bucketplan.Max = origMin, origMax
	})
}

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return b
}

func TestCreateExtractRoundTrip_NoKeyPrePad(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 1000)

	set, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{PostPad: false})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if set.Metadata.EncryptionInfo != nil {
		t.Errorf("Create() without a key set EncryptionInfo")
	}

	var out bytes.Buffer
	n, err := Extract(context.Background(), dir, &out, Options{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("Extract() wrote %d bytes, want %d", n, len(data))
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Extract() did not recover the original bytes")
	}
}

func TestCreateExtractRoundTrip_KeyPostPad(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 5000)
	key := seal.PassphraseKey("a passphrase for this set")

	_, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{PostPad: true, Key: &key})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var out bytes.Buffer
	if _, err := Extract(context.Background(), dir, &out, Options{Key: &key}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Extract() did not recover the original bytes")
	}
}

func TestCreateExtractRoundTrip_KeyPrePad(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 5000)
	key := seal.PassphraseKey("another passphrase")

	_, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{PostPad: false, Key: &key})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var out bytes.Buffer
	if _, err := Extract(context.Background(), dir, &out, Options{Key: &key}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Extract() did not recover the original bytes")
	}
}

func TestExtractWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 1000)
	key := seal.PassphraseKey("right key")
	wrongKey := seal.PassphraseKey("wrong key")

	if _, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{Key: &key}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var out bytes.Buffer
	if _, err := Extract(context.Background(), dir, &out, Options{Key: &wrongKey}); !errors.Is(err, capsuleerr.ErrDecryptionFailed) {
		t.Fatalf("Extract() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestExtractWithoutKeyOnEncryptedSetFails(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 1000)
	key := seal.PassphraseKey("a key")

	if _, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{Key: &key}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var out bytes.Buffer
	if _, err := Extract(context.Background(), dir, &out, Options{}); !errors.Is(err, capsuleerr.ErrDecryptionFailed) {
		t.Fatalf("Extract() without key error = %v, want ErrDecryptionFailed", err)
	}
}

func TestCreateEmptyInput(t *testing.T) {
	dir := t.TempDir()

	set, err := Create(context.Background(), bytes.NewReader(nil), 0, dir, Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if set.Metadata.CapsuleCount != 1 {
		t.Errorf("Create() of empty input produced %d capsules, want 1", set.Metadata.CapsuleCount)
	}

	var out bytes.Buffer
	n, err := Extract(context.Background(), dir, &out, Options{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Extract() of empty set wrote %d bytes, want 0", n)
	}
}

func TestCreateMultiChunkRoundTrip(t *testing.T) {
	withSmallBuckets(t)

	dir := t.TempDir()
	data := randomBytes(t, 300) // exceeds the shrunk max bucket of 256, forcing multiple chunks

	set, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if set.Metadata.CapsuleCount < 2 {
		t.Fatalf("Create() produced %d capsules, want >= 2 to exercise multi-chunk logic", set.Metadata.CapsuleCount)
	}

	var out bytes.Buffer
	n, err := Extract(context.Background(), dir, &out, Options{})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if n != int64(len(data)) || !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Extract() did not recover the original multi-chunk bytes")
	}
}

func TestCreateSetIDIsContentHash(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 1000)

	set, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	want := sha256.Sum256(data)
	if set.ID != hex.EncodeToString(want[:]) {
		t.Errorf("Create() set.ID = %s, want sha256(data) = %s", set.ID, hex.EncodeToString(want[:]))
	}
}

func TestCreateRefusesNameCollision(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 1000)

	if _, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{}); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	// Set ids are derived from content, so sealing identical content into
	// the same directory a second time must collide on the first capsule file.
	if _, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{}); !errors.Is(err, capsuleerr.ErrNameCollision) {
		t.Fatalf("second Create() into same dir error = %v, want ErrNameCollision", err)
	}
}

func TestExtractMissingCapsuleFails(t *testing.T) {
	dir := t.TempDir()
	data := randomBytes(t, 1000)

	set, err := Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, Options{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	capsulePath := filepath.Join(dir, set.ID16()+"_000.capsule")
	if err := os.Remove(capsulePath); err != nil {
		t.Fatalf("removing capsule fixture: %v", err)
	}

	var out bytes.Buffer
	if _, err := Extract(context.Background(), dir, &out, Options{}); !errors.Is(err, capsuleerr.ErrInputMissing) {
		t.Fatalf("Extract() with missing capsule error = %v, want ErrInputMissing", err)
	}
}

func TestCreateRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := randomBytes(t, 1000)
	if _, err := Create(ctx, bytes.NewReader(data), int64(len(data)), dir, Options{}); err == nil {
		t.Errorf("Create() with a cancelled context succeeded")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Create() with a cancelled context left %d files behind, want 0", len(entries))
	}
}
