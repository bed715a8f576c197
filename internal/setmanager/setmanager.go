// Package setmanager owns the CapsuleSet's metadata sidecar: writing it as
// stable canonical JSON, loading it back, and validating the
// consensus-critical fields every interoperating implementation must agree
// on.
package setmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/digcap/internal/bucketplan"
	"github.com/zzenonn/digcap/internal/capsuleerr"
	"github.com/zzenonn/digcap/internal/domain"
)

// WriteSidecar serializes set as the canonical, 2-space-indented metadata
// sidecar and writes it to dir via a temp-file-then-rename, so a reader
// never observes a partially written sidecar.
func WriteSidecar(dir string, set domain.CapsuleSet) error {
	body, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding sidecar: %v", capsuleerr.ErrOutputUnwritable, err)
	}

	final := filepath.Join(dir, domain.MetadataFileName(set.ID16()))
	tmp, err := os.CreateTemp(dir, ".metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		return fmt.Errorf("%w: %v", capsuleerr.ErrOutputUnwritable, err)
	}

	log.WithFields(log.Fields{"id16": set.ID16(), "capsules": set.Metadata.CapsuleCount}).Debug("wrote metadata sidecar")
	return nil
}

// HasSidecar reports whether dir already contains a `*_metadata.json`
// sidecar, without parsing it. Extract uses this to decide whether a
// mirror pull is needed before it can load a set at all.
func HasSidecar(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "_metadata.json") {
			return true
		}
	}
	return false
}

// LoadSet locates and parses the metadata sidecar in dir. dir may contain
// exactly one `*_metadata.json` file; any other layout is a MetadataInvalid
// error.
func LoadSet(dir string) (domain.CapsuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrInputMissing, err)
	}

	var sidecarPath string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), "_metadata.json") {
			if sidecarPath != "" {
				return domain.CapsuleSet{}, fmt.Errorf("%w: multiple metadata sidecars in %s", capsuleerr.ErrMetadataInvalid, dir)
			}
			sidecarPath = filepath.Join(dir, e.Name())
		}
	}
	if sidecarPath == "" {
		return domain.CapsuleSet{}, fmt.Errorf("%w: no metadata sidecar in %s", capsuleerr.ErrMetadataInvalid, dir)
	}

	body, err := os.ReadFile(sidecarPath)
	if err != nil {
		return domain.CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrMetadataInvalid, err)
	}

	var set domain.CapsuleSet
	if err := json.Unmarshal(body, &set); err != nil {
		return domain.CapsuleSet{}, fmt.Errorf("%w: %v", capsuleerr.ErrMetadataInvalid, err)
	}
	return set, nil
}

// ValidateConsensusParameters checks the consensus-critical fields of set:
// every capsule size must be in the legal bucket set, capsuleCount must
// match len(capsules), and the two version tags must match this
// implementation's. The first offending field is named in the returned
// error.
func ValidateConsensusParameters(set domain.CapsuleSet) (bool, error) {
	if set.Metadata.ConsensusVersion != domain.ConsensusVersion {
		return false, capsuleerr.ConsensusViolation("consensusVersion")
	}
	if set.Metadata.ChunkingAlgorithm != domain.ChunkingAlgorithm {
		return false, capsuleerr.ConsensusViolation("chunkingAlgorithm")
	}
	if set.Metadata.CapsuleCount != len(set.Capsules) {
		return false, capsuleerr.ConsensusViolation("capsuleCount")
	}
	if len(set.Metadata.CapsuleSizes) != set.Metadata.CapsuleCount {
		return false, capsuleerr.ConsensusViolation("capsuleSizes")
	}
	for _, size := range set.Metadata.CapsuleSizes {
		if !bucketplan.IsValidBucket(size) {
			return false, capsuleerr.ConsensusViolation("capsuleSizes")
		}
	}
	for _, c := range set.Capsules {
		if !bucketplan.IsValidBucket(c.BucketSize) {
			return false, capsuleerr.ConsensusViolation("capsules[].bucketSize")
		}
	}

	var sum int64
	for _, size := range set.Metadata.CapsuleSizes {
		sum += size
	}
	if sum < set.Metadata.OriginalSize {
		return false, capsuleerr.ConsensusViolation("capsuleSizes")
	}

	return true, nil
}
