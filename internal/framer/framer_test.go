package framer

import (
	"errors"
	"testing"

	"github.com/zzenonn/digcap/internal/capsuleerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Version:       Version,
		Encrypted:     true,
		Compressed:    true,
		PostPad:       false,
		Index:         3,
		BucketSize:    1048576,
		ContentLength: 512,
		IV:            [12]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
	}

	buf := Encode(h)
	if len(buf) != HeaderSize {
		t.Fatalf("Encode() produced %d bytes, want %d", len(buf), HeaderSize)
	}

	got, err := Decode(buf, 10)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != h {
		t.Errorf("Decode() = %+v, want %+v", got, h)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := Encode(Header{Version: Version, BucketSize: 262144})
	buf[0] = 'X'
	if _, err := Decode(buf, -1); !errors.Is(err, capsuleerr.ErrCapsuleHeaderInvalid) {
		t.Fatalf("Decode() error = %v, want ErrCapsuleHeaderInvalid", err)
	}
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	buf := Encode(Header{Version: Version, BucketSize: 262144})
	buf[40] ^= 0xFF
	if _, err := Decode(buf, -1); !errors.Is(err, capsuleerr.ErrCapsuleHeaderInvalid) {
		t.Fatalf("Decode() error = %v, want ErrCapsuleHeaderInvalid", err)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := Decode(make([]byte, 10), -1); !errors.Is(err, capsuleerr.ErrCapsuleHeaderInvalid) {
		t.Fatalf("Decode() with short buffer did not return ErrCapsuleHeaderInvalid")
	}
}

func TestDecodeRejectsInvalidBucketSize(t *testing.T) {
	buf := Encode(Header{Version: Version, BucketSize: 999})
	if _, err := Decode(buf, -1); !errors.Is(err, capsuleerr.ErrCapsuleHeaderInvalid) {
		t.Fatalf("Decode() with invalid bucket size did not return ErrCapsuleHeaderInvalid")
	}
}

func TestDecodeRejectsOutOfRangeIndex(t *testing.T) {
	buf := Encode(Header{Version: Version, BucketSize: 262144, Index: 5})
	if _, err := Decode(buf, 5); !errors.Is(err, capsuleerr.ErrCapsuleHeaderInvalid) {
		t.Fatalf("Decode() with out-of-range index did not return ErrCapsuleHeaderInvalid")
	}
	if _, err := Decode(buf, 6); err != nil {
		t.Fatalf("Decode() with in-range index returned error: %v", err)
	}
	if _, err := Decode(buf, -1); err != nil {
		t.Fatalf("Decode() with expectedCount=-1 returned error: %v", err)
	}
}

func TestAADCoversIdentityFieldsOnly(t *testing.T) {
	base := Header{Version: Version, Index: 1, Encrypted: true, Compressed: true}
	withDifferentContent := base
	withDifferentContent.ContentLength = 9999
	withDifferentContent.IV = [12]byte{9, 9, 9}

	if string(base.AAD()) != string(withDifferentContent.AAD()) {
		t.Errorf("AAD() changed when only ContentLength/IV changed; it must bind identity fields only")
	}

	withDifferentIndex := base
	withDifferentIndex.Index = 2
	if string(base.AAD()) == string(withDifferentIndex.AAD()) {
		t.Errorf("AAD() did not change when Index changed")
	}
}
