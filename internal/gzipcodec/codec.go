// Package gzipcodec implements the compression codec: fixed level-6 gzip,
// matching the RFC 1952 stream every implementation of this format must
// produce bit-identically at the stream-framing level.
package gzipcodec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/zzenonn/digcap/internal/capsuleerr"
)

// Level is the fixed gzip compression level used by every capsule, part of
// the consensus contract.
const Level = 6

// gzipMagic is the two leading bytes of any valid gzip stream.
var gzipMagic = [2]byte{0x1F, 0x8B}

// Compress gzips data at the fixed consensus level.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, Level)
	if err != nil {
		return nil, fmt.Errorf("gzipcodec: new writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzipcodec: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzipcodec: close: %w", err)
	}
	return buf.Bytes(), nil
}

// LooksLikeGzip reports whether data begins with the gzip magic bytes.
func LooksLikeGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1]
}

// Decompress inflates a gzip stream produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	if !LooksLikeGzip(data) {
		return nil, fmt.Errorf("%w: missing gzip magic", capsuleerr.ErrDecompressionFailed)
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capsuleerr.ErrDecompressionFailed, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capsuleerr.ErrDecompressionFailed, err)
	}
	return out, nil
}
