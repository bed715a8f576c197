// Package capsuleerr defines the sentinel error kinds shared across the
// capsule pipeline. Every fatal condition described by the capsule format
// maps to exactly one of these so callers can discriminate with errors.Is.
package capsuleerr

import (
	"errors"
	"fmt"
)

var (
	ErrInputMissing            = errors.New("input missing: path does not exist or is not readable")
	ErrOutputUnwritable        = errors.New("output unwritable: directory or file cannot be created or written")
	ErrNameCollision           = errors.New("name collision: target capsule file already exists")
	ErrPayloadTooLargeForBucket = errors.New("payload too large for bucket: padding floor cannot fit")
	ErrPaddingCorrupt          = errors.New("padding corrupt: marker/size footer inconsistent")
	ErrDecryptionFailed        = errors.New("decryption failed: GCM tag verification failed")
	ErrDecompressionFailed     = errors.New("decompression failed: gzip stream invalid")
	ErrCapsuleHeaderInvalid    = errors.New("capsule header invalid: magic, version, flags or CRC mismatch")
	ErrMetadataInvalid         = errors.New("metadata invalid: sidecar missing or malformed")
	ErrConsensusViolation      = errors.New("consensus violation: field outside its allowed set")
	ErrLengthMismatch          = errors.New("length mismatch: recovered payload total does not match original size")
	ErrFlagsInconsistent       = errors.New("flags inconsistent: header flags disagree with observed body")
	ErrRngUnavailable          = errors.New("rng unavailable: CSPRNG exhausted or unavailable")
)

// ConsensusViolation wraps ErrConsensusViolation naming the first offending field.
func ConsensusViolation(field string) error {
	return fmt.Errorf("%w: %s", ErrConsensusViolation, field)
}

// FetchingResourceError reports a failure to locate a capsule resource by id.
func FetchingResourceError(resource string) error {
	return fmt.Errorf("failed to fetch %s: %w", resource, ErrInputMissing)
}
