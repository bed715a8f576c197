// Package padding implements the pad envelope used to bring every capsule
// chunk up to its bucket size without revealing the true payload length:
//
//	payload ‖ 0xFFFFFFFF ‖ random ‖ size_le32
package padding

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/zzenonn/digcap/internal/capsuleerr"
)

// Marker is the 4-byte sentinel separating payload from random padding.
var Marker = [4]byte{0xFF, 0xFF, 0xFF, 0xFF}

const (
	markerLen = 4
	footerLen = 4
)

// minPadding returns max(1, ceil(0.05*target)), computed in integer
// arithmetic so the result is identical across platforms.
func minPadding(target int64) int64 {
	p := (target*5 + 99) / 100
	if p < 1 {
		p = 1
	}
	return p
}

// Wrap builds the pad envelope for payload so the result is exactly target
// bytes long. Random bytes come from a CSPRNG. Returns
// capsuleerr.ErrPayloadTooLargeForBucket if the 5% padding floor cannot fit,
// and capsuleerr.ErrRngUnavailable if the CSPRNG cannot be read.
func Wrap(payload []byte, target int64) ([]byte, error) {
	overhead := int64(len(payload)) + markerLen + footerLen
	available := target - overhead
	if available < minPadding(target) {
		return nil, fmt.Errorf("%w: payload %d bytes needs %d bytes of padding at target %d",
			capsuleerr.ErrPayloadTooLargeForBucket, len(payload), minPadding(target), target)
	}

	envelope := make([]byte, target)
	n := copy(envelope, payload)
	copy(envelope[n:], Marker[:])

	randomRegion := envelope[n+markerLen : int(target)-footerLen]
	if _, err := rand.Read(randomRegion); err != nil {
		return nil, fmt.Errorf("%w: %v", capsuleerr.ErrRngUnavailable, err)
	}

	binary.LittleEndian.PutUint32(envelope[target-footerLen:], uint32(len(payload)))
	return envelope, nil
}

// Unwrap recovers the original payload from an envelope known to have been
// padded to target bytes. It scans forward for the first marker occurrence
// whose offset is corroborated by the trailing size footer, per the
// ambiguity-resolution rule: four consecutive 0xFF bytes can legitimately
// occur inside random-looking payloads, so the footer is the final arbiter.
func Unwrap(envelope []byte, target int64) ([]byte, error) {
	if int64(len(envelope)) != target || target < int64(markerLen+footerLen) {
		return nil, fmt.Errorf("%w: envelope length %d does not match target %d",
			capsuleerr.ErrPaddingCorrupt, len(envelope), target)
	}

	footer := binary.LittleEndian.Uint32(envelope[target-footerLen:])
	maxSize := target - footerLen

	searchEnd := int(target) - footerLen - markerLen
	for i := 0; i <= searchEnd; i++ {
		if !isMarker(envelope[i : i+markerLen]) {
			continue
		}
		size := int64(footer)
		if size != int64(i) {
			continue
		}
		if size > int64(i) || size > maxSize {
			continue
		}
		return envelope[:size], nil
	}

	return nil, fmt.Errorf("%w: no marker offset matches the declared size footer", capsuleerr.ErrPaddingCorrupt)
}

func isMarker(b []byte) bool {
	return b[0] == Marker[0] && b[1] == Marker[1] && b[2] == Marker[2] && b[3] == Marker[3]
}
