package bucketplan

import "testing"

func TestFor(t *testing.T) {
	tests := []struct {
		name       string
		n          int64
		wantBucket int64
		wantChunks int64
	}{
		{"zero", 0, Min, 1},
		{"one byte", 1, 262144, 1},
		{"exact smallest bucket", 262144, 262144, 1},
		{"one over smallest bucket", 262145, 1048576, 1},
		{"exact middle bucket", 10485760, 10485760, 1},
		{"two buckets worth", 2 * 1048576, 10485760, 1},
		{"bigger than max, multiple chunks", Max + 1, Max, 2},
		{"many chunks", Max*3 + 1, Max, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := For(tt.n)
			if plan.Bucket != tt.wantBucket {
				t.Errorf("For(%d).Bucket = %d, want %d", tt.n, plan.Bucket, tt.wantBucket)
			}
			if plan.Chunks != tt.wantChunks {
				t.Errorf("For(%d).Chunks = %d, want %d", tt.n, plan.Chunks, tt.wantChunks)
			}
			if plan.Bucket*plan.Chunks < tt.n {
				t.Errorf("For(%d) under-provisions: bucket*chunks = %d", tt.n, plan.Bucket*plan.Chunks)
			}
		})
	}
}

func TestIsValidBucket(t *testing.T) {
	for _, s := range Sizes {
		if !IsValidBucket(s) {
			t.Errorf("IsValidBucket(%d) = false, want true", s)
		}
	}
	for _, bad := range []int64{0, 1, 262143, 262145, Max + 1, -1} {
		if IsValidBucket(bad) {
			t.Errorf("IsValidBucket(%d) = true, want false", bad)
		}
	}
}

func TestForDeterministic(t *testing.T) {
	for _, n := range []int64{0, 1, 262144, 5_000_000, Max + 17} {
		a := For(n)
		b := For(n)
		if a != b {
			t.Errorf("For(%d) is not deterministic: %+v vs %+v", n, a, b)
		}
	}
}
