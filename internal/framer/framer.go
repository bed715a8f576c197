// Package framer implements the capsule file's fixed 44-byte header: magic,
// version, flags, index, bucket size, content length, IV, and a CRC32 guard
// over everything preceding it.
package framer

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/zzenonn/digcap/internal/bucketplan"
	"github.com/zzenonn/digcap/internal/capsuleerr"
)

// HeaderSize is the total size, in bytes, of a capsule file header.
const HeaderSize = 44

// Magic identifies a capsule file.
var Magic = [8]byte{'D', 'I', 'G', 'C', 'A', 'P', '0', '1'}

// Version is the only capsule format version this implementation writes or accepts.
const Version uint16 = 0x0001

const (
	FlagEncrypted  uint16 = 1 << 0
	FlagCompressed uint16 = 1 << 1
	FlagPostPad    uint16 = 1 << 2
)

// Header is the parsed form of a capsule file's 44-byte header.
type Header struct {
	Version       uint16
	Encrypted     bool
	Compressed    bool
	PostPad       bool
	Index         uint32
	BucketSize    int64
	ContentLength uint32
	IV            [12]byte
}

// AAD returns the associated-data prefix (magic‖version‖flags‖index) that
// binds ciphertext to its capsule's identity: 16 bytes covering the
// header's leading, never-padded fields.
func (h Header) AAD() []byte {
	aad := make([]byte, 16)
	copy(aad[0:8], Magic[:])
	binary.LittleEndian.PutUint16(aad[8:10], h.Version)
	binary.LittleEndian.PutUint16(aad[10:12], h.flags())
	binary.LittleEndian.PutUint32(aad[12:16], h.Index)
	return aad
}

func (h Header) flags() uint16 {
	var f uint16
	if h.Encrypted {
		f |= FlagEncrypted
	}
	if h.Compressed {
		f |= FlagCompressed
	}
	if h.PostPad {
		f |= FlagPostPad
	}
	return f
}

// Encode serializes h into a 44-byte header, computing its trailing CRC32.
func Encode(h Header) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint16(buf[10:12], h.flags())
	binary.LittleEndian.PutUint32(buf[12:16], h.Index)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.BucketSize))
	binary.LittleEndian.PutUint32(buf[24:28], h.ContentLength)
	copy(buf[28:40], h.IV[:])
	crc := crc32.ChecksumIEEE(buf[0:40])
	binary.LittleEndian.PutUint32(buf[40:44], crc)
	return buf
}

// Decode parses and validates a 44-byte header: magic, version, and CRC32
// must match. expectedCount, when >= 0, additionally bounds Index.
func Decode(buf []byte, expectedCount int) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", capsuleerr.ErrCapsuleHeaderInvalid, len(buf), HeaderSize)
	}
	if string(buf[0:8]) != string(Magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic", capsuleerr.ErrCapsuleHeaderInvalid)
	}

	crc := crc32.ChecksumIEEE(buf[0:40])
	wantCrc := binary.LittleEndian.Uint32(buf[40:44])
	if crc != wantCrc {
		return Header{}, fmt.Errorf("%w: header CRC32 mismatch", capsuleerr.ErrCapsuleHeaderInvalid)
	}

	version := binary.LittleEndian.Uint16(buf[8:10])
	if version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", capsuleerr.ErrCapsuleHeaderInvalid, version)
	}

	flags := binary.LittleEndian.Uint16(buf[10:12])
	index := binary.LittleEndian.Uint32(buf[12:16])
	bucketSize := int64(binary.LittleEndian.Uint64(buf[16:24]))
	contentLength := binary.LittleEndian.Uint32(buf[24:28])

	if expectedCount >= 0 && int(index) >= expectedCount {
		return Header{}, fmt.Errorf("%w: index %d out of range [0,%d)", capsuleerr.ErrCapsuleHeaderInvalid, index, expectedCount)
	}
	if !bucketplan.IsValidBucket(bucketSize) {
		return Header{}, fmt.Errorf("%w: bucket size %d not in legal set", capsuleerr.ErrCapsuleHeaderInvalid, bucketSize)
	}

	h := Header{
		Version:       version,
		Encrypted:     flags&FlagEncrypted != 0,
		Compressed:    flags&FlagCompressed != 0,
		PostPad:       flags&FlagPostPad != 0,
		Index:         index,
		BucketSize:    bucketSize,
		ContentLength: contentLength,
	}
	copy(h.IV[:], buf[28:40])
	return h, nil
}
