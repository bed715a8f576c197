package redundancy_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/zzenonn/digcap/internal/domain"
	"github.com/zzenonn/digcap/internal/pipeline"
	"github.com/zzenonn/digcap/internal/redundancy"
)

func sealedFixture(t *testing.T, dir string, size int) domain.CapsuleSet {
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	set, err := pipeline.Create(context.Background(), bytes.NewReader(data), int64(size), dir, pipeline.Options{})
	if err != nil {
		t.Fatalf("pipeline.Create() error = %v", err)
	}
	return set
}

func TestProtectThenRepairRecoversMissingCapsule(t *testing.T) {
	dir := t.TempDir()
	set := sealedFixture(t, dir, 1000)

	if err := redundancy.Protect(context.Background(), dir, set, 2); err != nil {
		t.Fatalf("redundancy.Protect() error = %v", err)
	}

	capsulePath := filepath.Join(dir, domain.CapsuleFileName(set.ID16(), 0))
	original, err := os.ReadFile(capsulePath)
	if err != nil {
		t.Fatalf("reading original capsule: %v", err)
	}
	if err := os.Remove(capsulePath); err != nil {
		t.Fatalf("removing capsule fixture: %v", err)
	}

	if err := redundancy.Repair(context.Background(), dir, set); err != nil {
		t.Fatalf("redundancy.Repair() error = %v", err)
	}

	repaired, err := os.ReadFile(capsulePath)
	if err != nil {
		t.Fatalf("reading repaired capsule: %v", err)
	}
	if !bytes.Equal(repaired, original) {
		t.Errorf("redundancy.Repair() did not restore the original capsule bytes")
	}
}

func TestProtectWritesManifestAndShards(t *testing.T) {
	dir := t.TempDir()
	set := sealedFixture(t, dir, 500)

	if err := redundancy.Protect(context.Background(), dir, set, 3); err != nil {
		t.Fatalf("redundancy.Protect() error = %v", err)
	}

	manifestPath := filepath.Join(dir, set.ID16()+"_parity.json")
	if _, err := os.Stat(manifestPath); err != nil {
		t.Errorf("redundancy.Protect() did not write a manifest: %v", err)
	}

	for i := len(set.Capsules); i < len(set.Capsules)+3; i++ {
		shardPath := filepath.Join(dir, redundancy.ShardName(set.ID16(), i))
		if _, err := os.Stat(shardPath); err != nil {
			t.Errorf("redundancy.Protect() did not write parity shard %d: %v", i, err)
		}
	}
}

func TestExtractRecoversAfterRepair(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 2000)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	set, err := pipeline.Create(context.Background(), bytes.NewReader(data), int64(len(data)), dir, pipeline.Options{})
	if err != nil {
		t.Fatalf("pipeline.Create() error = %v", err)
	}
	if err := redundancy.Protect(context.Background(), dir, set, 1); err != nil {
		t.Fatalf("redundancy.Protect() error = %v", err)
	}

	capsulePath := filepath.Join(dir, domain.CapsuleFileName(set.ID16(), 0))
	if err := os.Remove(capsulePath); err != nil {
		t.Fatalf("removing capsule fixture: %v", err)
	}

	if err := redundancy.Repair(context.Background(), dir, set); err != nil {
		t.Fatalf("redundancy.Repair() error = %v", err)
	}

	var out bytes.Buffer
	if _, err := pipeline.Extract(context.Background(), dir, &out, pipeline.Options{}); err != nil {
		t.Fatalf("Extract() after redundancy.Repair() error = %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Errorf("Extract() after redundancy.Repair() did not recover the original bytes")
	}
}
