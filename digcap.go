// Package digcap turns an arbitrary byte stream into a deterministic,
// encrypted, compressed, padded set of fixed-size opaque capsule files plus
// a JSON metadata sidecar, and back again.
//
// A capsule set always uses a single bucket size for every capsule it
// contains, chosen once from the input's total length: the smallest size in
// ListBucketSizes that holds the whole input, or the largest size when none
// does. Observing a capsule set from the outside reveals its bucket size and
// capsule count, never the true content length or content; each capsule's
// header flags, stored in the clear, do show whether it was encrypted.
package digcap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/zzenonn/digcap/internal/bucketplan"
	"github.com/zzenonn/digcap/internal/capsuleerr"
	"github.com/zzenonn/digcap/internal/catalog"
	"github.com/zzenonn/digcap/internal/domain"
	"github.com/zzenonn/digcap/internal/framer"
	"github.com/zzenonn/digcap/internal/mirror"
	"github.com/zzenonn/digcap/internal/pipeline"
	"github.com/zzenonn/digcap/internal/seal"
	"github.com/zzenonn/digcap/internal/setmanager"
)

// KDFSalt is the fixed, public PBKDF2 salt used to derive an AES-256 key
// from a passphrase. It is part of the consensus contract: two
// implementations that want to interoperate over passphrase-derived keys
// must agree on this exact value.
var KDFSalt = seal.Salt

// Key is an encryption key: either 32 raw bytes or a passphrase to be
// expanded via PBKDF2-HMAC-SHA256.
type Key = seal.Key

// RawKey wraps exactly 32 raw key bytes for direct use, bypassing key
// derivation.
func RawKey(b []byte) (Key, error) { return seal.RawKey(b) }

// PassphraseKey wraps an arbitrary UTF-8 passphrase to be expanded via
// PBKDF2-HMAC-SHA256 with KDFSalt and 100,000 iterations.
func PassphraseKey(s string) Key { return seal.PassphraseKey(s) }

// Capsule, CapsuleSet, EncryptionInfo, CompressionInfo, and Metadata are
// the wire-visible record types a capsule set's metadata sidecar is made
// of.
type (
	Capsule         = domain.Capsule
	CapsuleSet      = domain.CapsuleSet
	EncryptionInfo  = domain.EncryptionInfo
	CompressionInfo = domain.CompressionInfo
	Metadata        = domain.Metadata
)

// Mirror pushes a sealed set's files to a secondary object-storage backend
// and pulls them back, entirely outside the create/extract consensus core.
type Mirror = mirror.Mirror

// Catalog records sealed sets in a remote table so they can be looked up by
// id from another host without shipping the metadata sidecar out of band.
type Catalog = catalog.Catalog

// Options configures a create or extract call.
type Options struct {
	// Key encrypts (on create) or decrypts (on extract) every capsule.
	// A nil Key means the pipeline runs with no encryption.
	Key *Key
	// PostPad selects the transform order used when creating a set:
	// pad->encrypt->compress when false (the default), encrypt->compress->pad
	// when true. Extraction always reads this flag from each capsule's own
	// header, so it is ignored on extract.
	PostPad bool

	// Mirror, when set, is pushed to best-effort by CreateFromBuffer and
	// CreateFromFile once a set is finalized locally, and pulled from by
	// ExtractToBuffer/ExtractToFile when the target directory has no
	// sidecar yet.
	Mirror Mirror
	// MirrorID16 is the id16 to pull from Mirror when the extract target
	// has no local sidecar. Required alongside Mirror for extraction of a
	// set that was never sealed on this host.
	MirrorID16 string

	// Catalog, when set, is recorded to asynchronously and best-effort
	// once a set is finalized locally by CreateFromBuffer/CreateFromFile.
	Catalog Catalog
	// CatalogMirrorLocation is recorded alongside the set as a hint for
	// where its mirrored copy, if any, can be found.
	CatalogMirrorLocation string
}

// ListBucketSizes returns the closed, ascending set of legal capsule
// bucket sizes, in bytes.
func ListBucketSizes() []int64 {
	out := make([]int64, len(bucketplan.Sizes))
	copy(out, bucketplan.Sizes[:])
	return out
}

// ConsensusTag returns the fixed consensus-version tag every set produced
// by this implementation carries in its sidecar.
func ConsensusTag() string {
	return domain.ConsensusVersion
}

// minPaddingPercent is the fraction of the smallest legal bucket every
// capsule pays as its minimum padding floor, used here (not the capsule's
// own bucket size) because the estimate is meant as a quick, bucket-size-
// independent approximation rather than an exact accounting.
const minPaddingPercent = 0.05

// OverheadEstimate returns the estimated padding overhead of a set with
// capsuleCount capsules sealed from an input of originalSize bytes, as a
// percentage of originalSize. It is 0 when originalSize is 0.
func OverheadEstimate(originalSize, capsuleCount int64) float64 {
	if originalSize == 0 {
		return 0
	}
	minPaddingPerCapsule := float64(bucketplan.Min) * minPaddingPercent
	totalMinPadding := minPaddingPerCapsule * float64(capsuleCount)
	return totalMinPadding / float64(originalSize) * 100.0
}

func toPipelineOptions(opts Options) pipeline.Options {
	return pipeline.Options{
		PostPad:               opts.PostPad,
		Key:                   opts.Key,
		Mirror:                opts.Mirror,
		MirrorID16:            opts.MirrorID16,
		Catalog:               opts.Catalog,
		CatalogMirrorLocation: opts.CatalogMirrorLocation,
	}
}

// CreateFromBuffer seals data into a new capsule set under outputDir.
func CreateFromBuffer(ctx context.Context, data []byte, outputDir string, opts Options) (CapsuleSet, error) {
	return pipeline.Create(ctx, bytes.NewReader(data), int64(len(data)), outputDir, toPipelineOptions(opts))
}

// CreateFromFile seals the file at inputPath into a new capsule set under
// outputDir.
func CreateFromFile(ctx context.Context, inputPath, outputDir string, opts Options) (CapsuleSet, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrInputMissing, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrInputMissing, err)
	}

	return pipeline.Create(ctx, f, info.Size(), outputDir, toPipelineOptions(opts))
}

// ExtractToBuffer recovers the original bytes of the set whose sidecar
// lives in dir.
func ExtractToBuffer(ctx context.Context, dir string, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pipeline.Extract(ctx, dir, &buf, toPipelineOptions(opts)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractToFile recovers the original bytes of the set whose sidecar lives
// in dir and writes them to outputPath.
func ExtractToFile(ctx context.Context, dir, outputPath string, opts Options) (int64, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	defer f.Close()

	n, err := pipeline.Extract(ctx, dir, f, toPipelineOptions(opts))
	if err != nil {
		return n, err
	}
	return n, f.Sync()
}

// LoadSet loads and parses the metadata sidecar in dir without touching
// any capsule file.
func LoadSet(dir string) (CapsuleSet, error) {
	return setmanager.LoadSet(dir)
}

// ReconstructFromSet recovers the original bytes of set, whose capsule
// files live in dir, using set's metadata instead of re-reading the
// sidecar from disk. This is the entry point for callers that obtained
// metadata out of band, e.g. a copy of the sidecar kept elsewhere.
func ReconstructFromSet(ctx context.Context, set CapsuleSet, dir string, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pipeline.ExtractSet(ctx, set, dir, &buf, pipeline.Options{Key: opts.Key}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ValidateConsensusParameters checks that set's consensus-critical fields
// (version tags, capsule count, capsule sizes) are internally consistent
// and within the legal bucket set.
func ValidateConsensusParameters(set CapsuleSet) (bool, error) {
	return setmanager.ValidateConsensusParameters(set)
}

// CapsuleHeaderInfo is the subset of a capsule file's header a caller can
// inspect without a key or the metadata sidecar.
type CapsuleHeaderInfo struct {
	Version       uint16
	Encrypted     bool
	Compressed    bool
	PostPad       bool
	Index         uint32
	BucketSize    int64
	ContentLength uint32
}

// IsValidCapsuleFile reports whether the file at path begins with a
// structurally valid capsule header: correct magic, version, and CRC32.
func IsValidCapsuleFile(path string) bool {
	_, err := readHeader(path)
	return err == nil
}

// CapsuleFileInfo reads and validates the header of the capsule file at
// path, without attempting to decode its body.
func CapsuleFileInfo(path string) (CapsuleHeaderInfo, error) {
	h, err := readHeader(path)
	if err != nil {
		return CapsuleHeaderInfo{}, err
	}
	return CapsuleHeaderInfo{
		Version:       h.Version,
		Encrypted:     h.Encrypted,
		Compressed:    h.Compressed,
		PostPad:       h.PostPad,
		Index:         h.Index,
		BucketSize:    h.BucketSize,
		ContentLength: h.ContentLength,
	}, nil
}

func readHeader(path string) (framer.Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return framer.Header{}, fmt.Errorf("%w: %v", capsuleerr.ErrInputMissing, err)
	}
	defer f.Close()

	buf := make([]byte, framer.HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return framer.Header{}, fmt.Errorf("%w: %v", capsuleerr.ErrCapsuleHeaderInvalid, err)
	}
	return framer.Decode(buf, -1)
}

// ID16 truncates a full set id to the 16-hex-char prefix used in every
// capsule and sidecar filename of that set.
func ID16(id string) string { return domain.ID16(id) }
