// Package pipeline implements the capsule create/extract engine: it drives
// the bucket planner, padding codec, crypto codec, compression codec, and
// capsule framer together to turn a byte stream into a capsule set and
// back again.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/digcap/internal/bucketplan"
	"github.com/zzenonn/digcap/internal/capsuleerr"
	"github.com/zzenonn/digcap/internal/catalog"
	"github.com/zzenonn/digcap/internal/domain"
	"github.com/zzenonn/digcap/internal/framer"
	"github.com/zzenonn/digcap/internal/gzipcodec"
	"github.com/zzenonn/digcap/internal/mirror"
	"github.com/zzenonn/digcap/internal/padding"
	"github.com/zzenonn/digcap/internal/redundancy"
	"github.com/zzenonn/digcap/internal/seal"
	"github.com/zzenonn/digcap/internal/setmanager"
)

// Options configures a single create or extract operation.
type Options struct {
	// PostPad selects the transform order: pad->encrypt->compress when
	// false, encrypt->compress->pad when true.
	PostPad bool
	// Key is the caller's encryption key. A nil Key means the pipeline
	// runs with encryption as the identity transform.
	Key *seal.Key

	// Mirror, when set, is pushed to best-effort after Create finalizes a
	// set locally, and pulled from by Extract when dir has no sidecar yet.
	Mirror mirror.Mirror
	// MirrorID16 is the id16 Extract asks Mirror.Pull for when dir has no
	// sidecar. It is meaningless without Mirror set.
	MirrorID16 string

	// Catalog, when set, is recorded to asynchronously and best-effort
	// after Create finalizes a set locally. A Catalog failure never fails
	// Create.
	Catalog catalog.Catalog
	// CatalogMirrorLocation is passed through to Catalog.Record as the
	// set's mirror location, if any.
	CatalogMirrorLocation string
}

// Create streams size bytes from r through the pipeline, writing one
// capsule file per chunk plus the metadata sidecar into outputDir. Peak
// memory is bounded by the chosen bucket size, not by size.
func Create(ctx context.Context, r io.Reader, size int64, outputDir string, opts Options) (domain.CapsuleSet, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return domain.CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}

	var key [seal.KeySize]byte
	hasKey := opts.Key != nil
	if hasKey {
		derived, err := seal.Derive(*opts.Key)
		if err != nil {
			return domain.CapsuleSet{}, err
		}
		key = derived
		defer seal.Zero(key[:])
	}

	plan := bucketplan.For(size)
	runningHash := sha256.New()
	capsules := make([]domain.Capsule, 0, plan.Chunks)
	tempPaths := make([]string, 0, plan.Chunks)

	cleanup := func() {
		for _, p := range tempPaths {
			os.Remove(p)
		}
	}

	remaining := size
	for idx := int64(0); idx < plan.Chunks; idx++ {
		if err := ctx.Err(); err != nil {
			cleanup()
			return domain.CapsuleSet{}, err
		}

		readSize := plan.Bucket
		if remaining < plan.Bucket {
			readSize = remaining
		}
		if readSize < 0 {
			readSize = 0
		}

		chunk := make([]byte, readSize)
		if readSize > 0 {
			n, err := io.ReadFull(r, chunk)
			if err != nil {
				cleanup()
				return domain.CapsuleSet{}, fmt.Errorf("%w: reading chunk %d: %v", capsuleerr.ErrInputMissing, idx, err)
			}
			chunk = chunk[:n]
		}
		runningHash.Write(chunk)
		remaining -= int64(len(chunk))

		header := framer.Header{
			Version:    framer.Version,
			Encrypted:  hasKey,
			Compressed: true,
			PostPad:    opts.PostPad,
			Index:      uint32(idx),
			BucketSize: plan.Bucket,
		}
		aad := header.AAD()

		body, iv, err := transformForward(chunk, plan.Bucket, opts.PostPad, hasKey, key, aad)
		seal.Zero(chunk)
		if err != nil {
			cleanup()
			return domain.CapsuleSet{}, err
		}
		header.IV = iv
		header.ContentLength = uint32(len(body))

		headerBytes := framer.Encode(header)
		bodyHash := sha256.Sum256(body)

		tmpPath, err := writeTempCapsule(outputDir, headerBytes, body)
		seal.Zero(body)
		if err != nil {
			cleanup()
			return domain.CapsuleSet{}, err
		}
		tempPaths = append(tempPaths, tmpPath)

		capsules = append(capsules, domain.Capsule{
			Index:         int(idx),
			BucketSize:    plan.Bucket,
			ContentLength: int64(header.ContentLength),
			ContentHash:   hex.EncodeToString(bodyHash[:]),
			Encrypted:     hasKey,
			Compressed:    true,
			PostPadFlag:   opts.PostPad,
		})
	}

	id := hex.EncodeToString(runningHash.Sum(nil))
	id16 := domain.ID16(id)

	finalPaths := make([]string, len(tempPaths))
	for i := range tempPaths {
		finalPaths[i] = filepath.Join(outputDir, domain.CapsuleFileName(id16, i))
		if _, err := os.Stat(finalPaths[i]); err == nil {
			cleanup()
			return domain.CapsuleSet{}, fmt.Errorf("%w: %s already exists", capsuleerr.ErrNameCollision, finalPaths[i])
		}
	}
	for i, tmp := range tempPaths {
		if err := os.Rename(tmp, finalPaths[i]); err != nil {
			cleanup()
			return domain.CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
		}
	}

	sizes := make([]int64, len(capsules))
	for i := range sizes {
		sizes[i] = plan.Bucket
	}

	meta := domain.Metadata{
		OriginalSize:      size,
		CapsuleCount:      len(capsules),
		CapsuleSizes:      sizes,
		Checksum:          id,
		ChunkingAlgorithm: domain.ChunkingAlgorithm,
		ConsensusVersion:  domain.ConsensusVersion,
		CompressionInfo: &domain.CompressionInfo{
			Algorithm:    "gzip",
			Level:        gzipcodec.Level,
			OriginalSize: size,
		},
	}
	if hasKey {
		meta.EncryptionInfo = &domain.EncryptionInfo{
			Algorithm:     "AES-256-GCM",
			KeyDerivation: "PBKDF2-HMAC-SHA256",
			Iterations:    seal.Iterations,
		}
	}

	set := domain.CapsuleSet{ID: id, Capsules: capsules, Metadata: meta}
	if err := setmanager.WriteSidecar(outputDir, set); err != nil {
		return domain.CapsuleSet{}, err
	}

	log.WithFields(log.Fields{
		"id16":         id16,
		"originalSize": size,
		"capsuleCount": len(capsules),
		"bucket":       plan.Bucket,
	}).Info("sealed capsule set")

	if opts.Mirror != nil {
		if err := opts.Mirror.Push(ctx, outputDir, id16); err != nil {
			log.WithError(err).WithField("id16", id16).Warn("mirror push failed; local capsule set remains source of truth")
		}
	}
	if opts.Catalog != nil {
		cat := opts.Catalog
		entry := catalog.Entry{
			ID16:              id16,
			FullID:            id,
			OriginalSize:      size,
			CapsuleCount:      len(capsules),
			ConsensusVersion:  meta.ConsensusVersion,
			ChunkingAlgorithm: meta.ChunkingAlgorithm,
		}
		if opts.CatalogMirrorLocation != "" {
			loc := opts.CatalogMirrorLocation
			entry.MirrorLocation = &loc
		}
		go func() {
			if err := cat.Record(context.Background(), entry); err != nil {
				log.WithError(err).WithField("id16", id16).Warn("catalog record failed")
			}
		}()
	}

	return set, nil
}

// transformForward runs the create-side pad/encrypt/compress pipeline for
// one chunk and returns the finished capsule body.
func transformForward(chunk []byte, bucket int64, postPad bool, hasKey bool, key [seal.KeySize]byte, aad []byte) ([]byte, [seal.IVSize]byte, error) {
	var iv [seal.IVSize]byte

	if postPad {
		encrypted := chunk
		if hasKey {
			generated, err := seal.NewIV()
			if err != nil {
				return nil, iv, err
			}
			iv = generated
			encrypted, err = seal.Seal(chunk, key, iv, aad)
			if err != nil {
				return nil, iv, err
			}
		}
		compressed, err := gzipcodec.Compress(encrypted)
		if err != nil {
			return nil, iv, err
		}
		body, err := padding.Wrap(compressed, bucket)
		return body, iv, err
	}

	padded, err := padding.Wrap(chunk, bucket)
	if err != nil {
		return nil, iv, err
	}
	encrypted := padded
	if hasKey {
		generated, err := seal.NewIV()
		if err != nil {
			return nil, iv, err
		}
		iv = generated
		encrypted, err = seal.Seal(padded, key, iv, aad)
		if err != nil {
			return nil, iv, err
		}
	}
	body, err := gzipcodec.Compress(encrypted)
	return body, iv, err
}

func writeTempCapsule(dir string, header, body []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".capsule-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	name := f.Name()

	if _, err := f.Write(header); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	return name, nil
}

// Extract loads the metadata sidecar from dir, validates it, and streams
// the recovered plaintext to w. It returns the number of bytes written,
// which always equals the set's declared originalSize on success.
func Extract(ctx context.Context, dir string, w io.Writer, opts Options) (int64, error) {
	if opts.Mirror != nil && opts.MirrorID16 != "" && !setmanager.HasSidecar(dir) {
		if err := opts.Mirror.Pull(ctx, opts.MirrorID16, dir); err != nil {
			log.WithError(err).WithField("id16", opts.MirrorID16).Warn("mirror pull failed")
		}
	}

	set, err := setmanager.LoadSet(dir)
	if err != nil {
		return 0, err
	}
	return ExtractSet(ctx, set, dir, w, opts)
}

// ExtractSet runs extraction using caller-supplied metadata instead of
// reading the sidecar from dir, as required by reconstructFromSet.
func ExtractSet(ctx context.Context, set domain.CapsuleSet, dir string, w io.Writer, opts Options) (int64, error) {
	if ok, err := setmanager.ValidateConsensusParameters(set); !ok {
		return 0, err
	}

	var key [seal.KeySize]byte
	hasKey := opts.Key != nil
	if hasKey {
		derived, err := seal.Derive(*opts.Key)
		if err != nil {
			return 0, err
		}
		key = derived
		defer seal.Zero(key[:])
	}

	id16 := set.ID16()
	var written int64
	repairAttempted := false

	for i := 0; i < set.Metadata.CapsuleCount; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		path := filepath.Join(dir, domain.CapsuleFileName(id16, i))
		plaintext, err := extractOne(path, i, set.Metadata.CapsuleCount, hasKey, key)
		if err != nil && !repairAttempted && (errors.Is(err, capsuleerr.ErrInputMissing) || errors.Is(err, capsuleerr.ErrCapsuleHeaderInvalid)) {
			repairAttempted = true
			if repairErr := redundancy.Repair(ctx, dir, set); repairErr == nil {
				plaintext, err = extractOne(path, i, set.Metadata.CapsuleCount, hasKey, key)
			} else {
				log.WithError(repairErr).WithField("id16", id16).Debug("no parity repair available for missing capsule")
			}
		}
		if err != nil {
			return written, err
		}

		n, err := w.Write(plaintext)
		seal.Zero(plaintext)
		if err != nil {
			return written, fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
		}
		written += int64(n)
	}

	if written != set.Metadata.OriginalSize {
		return written, fmt.Errorf("%w: recovered %d bytes, expected %d", capsuleerr.ErrLengthMismatch, written, set.Metadata.OriginalSize)
	}

	if f, ok := w.(*os.File); ok {
		if err := f.Truncate(written); err != nil {
			return written, fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
		}
	}

	log.WithFields(log.Fields{"id16": id16, "bytes": written}).Info("extracted capsule set")
	return written, nil
}

func extractOne(path string, index, expectedCount int, hasKey bool, key [seal.KeySize]byte) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capsuleerr.ErrInputMissing, err)
	}
	defer f.Close()

	headerBytes := make([]byte, framer.HeaderSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", capsuleerr.ErrCapsuleHeaderInvalid, err)
	}
	header, err := framer.Decode(headerBytes, expectedCount)
	if err != nil {
		return nil, err
	}
	if int(header.Index) != index {
		return nil, fmt.Errorf("%w: capsule at position %d declares index %d", capsuleerr.ErrCapsuleHeaderInvalid, index, header.Index)
	}

	body := make([]byte, header.ContentLength)
	if _, err := io.ReadFull(f, body); err != nil {
		return nil, fmt.Errorf("%w: short body: %v", capsuleerr.ErrCapsuleHeaderInvalid, err)
	}

	return transformInverse(body, header, hasKey, key)
}

// transformInverse inverts the create-side pipeline for one capsule body,
// selecting decode order from the postPad flag.
func transformInverse(body []byte, header framer.Header, hasKey bool, key [seal.KeySize]byte) ([]byte, error) {
	aad := header.AAD()

	if header.PostPad {
		compressed, err := padding.Unwrap(body, header.BucketSize)
		if err != nil {
			return nil, err
		}
		if header.Compressed && !gzipcodec.LooksLikeGzip(compressed) {
			return nil, fmt.Errorf("%w: compressed flag set but body is not gzip", capsuleerr.ErrFlagsInconsistent)
		}
		encrypted, err := gzipcodec.Decompress(compressed)
		if err != nil {
			return nil, err
		}
		if !header.Encrypted {
			return encrypted, nil
		}
		if !hasKey {
			return nil, fmt.Errorf("%w: capsule is encrypted but no key was supplied", capsuleerr.ErrDecryptionFailed)
		}
		return seal.Open(encrypted, key, header.IV, aad)
	}

	if header.Compressed && !gzipcodec.LooksLikeGzip(body) {
		return nil, fmt.Errorf("%w: compressed flag set but body is not gzip", capsuleerr.ErrFlagsInconsistent)
	}
	encrypted, err := gzipcodec.Decompress(body)
	if err != nil {
		return nil, err
	}

	padded := encrypted
	if header.Encrypted {
		if !hasKey {
			return nil, fmt.Errorf("%w: capsule is encrypted but no key was supplied", capsuleerr.ErrDecryptionFailed)
		}
		padded, err = seal.Open(encrypted, key, header.IV, aad)
		if err != nil {
			return nil, err
		}
	}

	return padding.Unwrap(padded, header.BucketSize)
}
