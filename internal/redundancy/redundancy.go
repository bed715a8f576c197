// Package redundancy adds optional Reed-Solomon parity across the capsule
// files of a set, so a set that loses a bounded number of capsule files can
// still be reconstructed before extraction runs.
package redundancy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc64"
	"os"
	"path/filepath"

	"github.com/klauspost/reedsolomon"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/digcap/internal/capsuleerr"
	"github.com/zzenonn/digcap/internal/domain"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// ShardInfo records one parity shard's checksum, so Repair can tell a
// corrupt shard from a missing one.
type ShardInfo struct {
	Index int    `json:"index"`
	Hash  string `json:"hash"`
}

// Manifest is the on-disk record of a set's parity shards.
type Manifest struct {
	DataShards   int         `json:"dataShards"`
	ParityShards int         `json:"parityShards"`
	ShardSize    int         `json:"shardSize"`
	Shards       []ShardInfo `json:"shards"`
}

func manifestName(id16 string) string {
	return id16 + "_parity.json"
}

func ShardName(id16 string, idx int) string {
	return fmt.Sprintf("%s_parity_%03d.shard", id16, idx)
}

// Protect reads every capsule file of set from dir, encodes parityShards
// additional Reed-Solomon shards across them, and writes the shards plus a
// manifest to dir. It never touches the capsule files or the metadata
// sidecar themselves; a set with no parity manifest still extracts exactly
// as it did before Protect was ever called.
func Protect(ctx context.Context, dir string, set domain.CapsuleSet, parityShards int) error {
	if parityShards < 1 {
		return fmt.Errorf("redundancy: parityShards must be >= 1, got %d", parityShards)
	}

	id16 := set.ID16()
	dataShards := len(set.Capsules)
	if dataShards == 0 {
		return fmt.Errorf("redundancy: capsule set has no capsules to protect")
	}

	shards := make([][]byte, dataShards)
	maxLen := 0
	for i, c := range set.Capsules {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, domain.CapsuleFileName(id16, c.Index))
		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: reading capsule %d: %v", capsuleerr.ErrInputMissing, c.Index, err)
		}
		shards[i] = body
		if len(body) > maxLen {
			maxLen = len(body)
		}
	}

	for i, s := range shards {
		if len(s) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, s)
			shards[i] = padded
		}
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return fmt.Errorf("redundancy: %w", err)
	}

	full := make([][]byte, dataShards+parityShards)
	copy(full, shards)
	for i := dataShards; i < len(full); i++ {
		full[i] = make([]byte, maxLen)
	}
	if err := enc.Encode(full); err != nil {
		return fmt.Errorf("redundancy: encode: %w", err)
	}

	manifest := Manifest{DataShards: dataShards, ParityShards: parityShards, ShardSize: maxLen}
	for i := dataShards; i < len(full); i++ {
		crc := crc64.Checksum(full[i], crcTable)
		hash := fmt.Sprintf("%016x", crc)
		manifest.Shards = append(manifest.Shards, ShardInfo{Index: i, Hash: hash})

		shardPath := filepath.Join(dir, ShardName(id16, i))
		if err := os.WriteFile(shardPath, full[i], 0o644); err != nil {
			return fmt.Errorf("%w: writing parity shard %d: %v", capsuleerr.ErrOutputUnwritable, i, err)
		}
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("redundancy: encoding manifest: %w", err)
	}
	manifestPath := filepath.Join(dir, manifestName(id16))
	if err := os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return fmt.Errorf("%w: writing parity manifest: %v", capsuleerr.ErrOutputUnwritable, err)
	}

	log.WithFields(log.Fields{"id16": id16, "dataShards": dataShards, "parityShards": parityShards}).Info("wrote parity shards")
	return nil
}

// Repair reconstructs the capsule files of set that are missing from dir
// using the parity manifest written by Protect. A capsule file that is
// present is used as-is as a data shard, so a corrupt one is neither
// detected nor rewritten. It is called by extraction when a capsule is
// absent or fails its header check, and by the repair CLI verb; it never
// participates in the create/extract consensus semantics itself.
func Repair(ctx context.Context, dir string, set domain.CapsuleSet) error {
	id16 := set.ID16()
	manifestPath := filepath.Join(dir, manifestName(id16))
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("%w: no parity manifest for set %s: %v", capsuleerr.ErrInputMissing, id16, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return fmt.Errorf("%w: parity manifest: %v", capsuleerr.ErrMetadataInvalid, err)
	}

	total := manifest.DataShards + manifest.ParityShards
	shards := make([][]byte, total)

	for i := 0; i < manifest.DataShards; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(dir, domain.CapsuleFileName(id16, i))
		body, err := os.ReadFile(path)
		if err == nil && len(body) > 0 {
			padded := make([]byte, manifest.ShardSize)
			copy(padded, body)
			shards[i] = padded
		}
	}
	for _, info := range manifest.Shards {
		path := filepath.Join(dir, ShardName(id16, info.Index))
		body, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if fmt.Sprintf("%016x", crc64.Checksum(body, crcTable)) != info.Hash {
			continue
		}
		shards[info.Index] = body
	}

	enc, err := reedsolomon.New(manifest.DataShards, manifest.ParityShards)
	if err != nil {
		return fmt.Errorf("redundancy: %w", err)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return fmt.Errorf("redundancy: reconstruct: %w", err)
	}

	for i := 0; i < manifest.DataShards; i++ {
		path := filepath.Join(dir, domain.CapsuleFileName(id16, i))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		trimmed := trimShard(shards[i], set, i)
		if err := os.WriteFile(path, trimmed, 0o644); err != nil {
			return fmt.Errorf("%w: restoring capsule %d: %v", capsuleerr.ErrOutputUnwritable, i, err)
		}
	}

	log.WithFields(log.Fields{"id16": id16}).Info("repaired capsule set from parity")
	return nil
}

// trimShard strips the zero padding Protect added to equalize shard
// lengths, using the capsule's own declared header+body length.
func trimShard(shard []byte, set domain.CapsuleSet, idx int) []byte {
	for _, c := range set.Capsules {
		if c.Index == idx {
			want := 44 + int(c.ContentLength)
			if want <= len(shard) {
				return shard[:want]
			}
		}
	}
	return bytes.TrimRight(shard, "\x00")
}
